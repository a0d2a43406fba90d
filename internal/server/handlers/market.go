package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
	apperrors "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/server/middleware"
	"github.com/marketgate/marketgate/internal/wire"
)

const maxDocumentBytes = 1 << 20

// reservedQuery are query parameters consumed by the handlers themselves or
// resolved only from the path and vendor config.
var reservedQuery = map[string]bool{
	"from":       true,
	"to":         true,
	"resolution": true,
	"symbol":     true,
	"apikey":     true,
}

// MarketHandler binds wire.Service to HTTP.
type MarketHandler struct {
	Service *wire.Service
}

// GateResponse is the body of GET /v1/gate/{vendor}.
type GateResponse struct {
	Vendor   string               `json:"vendor"`
	Category core.DataCategory    `json:"category"`
	Decision core.FetchGate       `json:"decision"`
	Snapshot *engine.GateSnapshot `json:"snapshot,omitempty"`
}

// VendorsResponse is the body of GET /v1/vendors.
type VendorsResponse struct {
	Vendors []string `json:"vendors"`
}

// Quote handles GET /v1/quote/{vendor}/{identifier}.
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	resp, failure := h.Service.GetQuote(r.Context(), wire.GetQuoteRequest{
		Vendor:        chi.URLParam(r, "vendor"),
		Identifier:    chi.URLParam(r, "identifier"),
		Params:        extraParams(r),
		CorrelationID: middleware.GetRequestID(r.Context()),
	})
	if failure != nil {
		respondWithError(w, r, apperrors.FromFailure(r.Context(), *failure))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Series handles GET /v1/series/{vendor}/{identifier}?from=&to=&resolution=.
func (h *MarketHandler) Series(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseBound(query.Get("from"))
	if err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, "invalid from"))
		return
	}
	to, err := parseBound(query.Get("to"))
	if err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, "invalid to"))
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		respondWithError(w, r, apperrors.NewValidationError("to must not be before from"))
		return
	}

	resp, failure := h.Service.GetSeries(r.Context(), wire.GetSeriesRequest{
		Vendor:        chi.URLParam(r, "vendor"),
		Identifier:    chi.URLParam(r, "identifier"),
		From:          from,
		To:            to,
		Resolution:    strings.TrimSpace(query.Get("resolution")),
		Params:        extraParams(r),
		CorrelationID: middleware.GetRequestID(r.Context()),
	})
	if failure != nil {
		respondWithError(w, r, apperrors.FromFailure(r.Context(), *failure))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Gate handles GET /v1/gate/{vendor}?category=. It never consumes a slot.
func (h *MarketHandler) Gate(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	category := core.CategoryQuote
	if raw := r.URL.Query().Get("category"); raw != "" {
		parsed, ok := core.ParseCategory(raw)
		if !ok {
			respondWithError(w, r, apperrors.NewValidationError(fmt.Sprintf("unknown category %q", raw)))
			return
		}
		category = parsed
	}

	decision := h.Service.CanFetch(r.Context(), vendor, category)
	if !decision.Allowed && decision.Kind == core.KindConfiguration {
		respondWithError(w, r, apperrors.FromFailure(r.Context(), core.Failure{Kind: decision.Kind, Error: decision.Reason}))
		return
	}

	resp := GateResponse{Vendor: core.NormalizeVendorName(vendor), Category: category, Decision: decision}
	if h.Service.Gate != nil {
		if snapshot, ok := h.Service.Gate.Snapshot(vendor); ok {
			resp.Snapshot = &snapshot
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Vendors handles GET /v1/vendors.
func (h *MarketHandler) Vendors(w http.ResponseWriter, _ *http.Request) {
	names := h.Service.Registry.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, VendorsResponse{Vendors: names})
}

// Document handles POST /v1/document. The body is a JSON object with topic,
// vendor and metadata; the reply carries document and metadata.
func (h *MarketHandler) Document(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, "unable to read request body"))
		return
	}

	var in structpb.Struct
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := protojson.Unmarshal(body, &in); err != nil {
			respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, "request body must be a JSON object"))
			return
		}
	}
	fields := in.GetFields()

	resp := h.Service.Describe(r.Context(), wire.DocumentRequest{
		Topic:    fields["topic"].GetStringValue(),
		Vendor:   fields["vendor"].GetStringValue(),
		Metadata: fields["metadata"].GetStructValue(),
	})
	if resp.Failure != nil {
		respondWithError(w, r, apperrors.FromFailure(r.Context(), *resp.Failure))
		return
	}

	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"document": structpb.NewStructValue(resp.Document),
		"metadata": structpb.NewStructValue(resp.Metadata),
	}}
	encoded, err := protojson.Marshal(out)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "unable to encode document"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func extraParams(r *http.Request) map[string]string {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	params := make(map[string]string, len(query))
	for key, values := range query {
		if reservedQuery[strings.ToLower(key)] || len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// parseBound accepts RFC 3339 or a bare YYYY-MM-DD date, both read as UTC.
func parseBound(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
