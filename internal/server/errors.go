package server

import (
	"net/http"

	apperrors "github.com/marketgate/marketgate/internal/errors"
)

// HandleError writes err as a JSON error envelope. Every handler error goes through it.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	HandleError(w, r, apperrors.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	HandleError(w, r, apperrors.NewMethodNotAllowedError(r.Method+" is not allowed on "+r.URL.Path))
}
