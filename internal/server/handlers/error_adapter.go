package handlers

import (
	"net/http"

	apperrors "github.com/marketgate/marketgate/internal/errors"
)

var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder routes handler errors through responder. Nil restores the default.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
