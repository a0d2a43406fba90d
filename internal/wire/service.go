package wire

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/core/registry"
	"github.com/marketgate/marketgate/internal/dynamic"
)

// Describe topics.
const (
	TopicVendors = "vendors"
	TopicVendor  = "vendor"
	TopicGate    = "gate"
)

// GetQuoteRequest asks for one quote.
type GetQuoteRequest struct {
	Vendor        string            `json:"vendor"`
	Identifier    string            `json:"identifier"`
	Params        map[string]string `json:"params,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// GetSeriesRequest asks for a price series.
type GetSeriesRequest struct {
	Vendor        string            `json:"vendor"`
	Identifier    string            `json:"identifier"`
	From          *time.Time        `json:"from,omitempty"`
	To            *time.Time        `json:"to,omitempty"`
	Resolution    string            `json:"resolution,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// DocumentRequest is the generic dynamic-document exchange. Metadata is echoed back.
type DocumentRequest struct {
	Topic    string
	Vendor   string
	Metadata *structpb.Struct
}

// DocumentResponse carries the requested document, the echoed metadata, or a failure.
type DocumentResponse struct {
	Document *structpb.Struct
	Metadata *structpb.Struct
	Failure  *core.Failure
}

// Service is the RPC contract over a Provider.
type Service struct {
	Provider engine.Provider
	Registry *registry.Registry
	Gate     *engine.Gate
}

// GetQuote fetches a quote and maps it to the wire shape.
func (s *Service) GetQuote(ctx context.Context, req GetQuoteRequest) (QuoteResponse, *core.Failure) {
	result := s.Provider.Fetch(ctx, core.MarketDataRequest{
		Vendor:        req.Vendor,
		Category:      core.CategoryQuote,
		Identifier:    req.Identifier,
		Params:        req.Params,
		CorrelationID: req.CorrelationID,
	})
	if !result.Success {
		return QuoteResponse{}, failureOf(result)
	}
	response := ToQuoteResponse(result.Data)
	response.Source = source(result)
	response.Metadata = metadataOf(result)
	return response, nil
}

// GetSeries fetches a series and maps it to the wire shape.
func (s *Service) GetSeries(ctx context.Context, req GetSeriesRequest) (SeriesResponse, *core.Failure) {
	result := s.Provider.Fetch(ctx, core.MarketDataRequest{
		Vendor:        req.Vendor,
		Category:      core.CategorySeries,
		Identifier:    req.Identifier,
		From:          req.From,
		To:            req.To,
		Resolution:    req.Resolution,
		Params:        req.Params,
		CorrelationID: req.CorrelationID,
	})
	if !result.Success {
		return SeriesResponse{Points: []SeriesPointResponse{}}, failureOf(result)
	}
	response := ToSeriesResponse(result.Data)
	response.Source = source(result)
	response.Metadata = metadataOf(result)
	return response, nil
}

// CanFetch reports whether a live fetch would be admitted now.
func (s *Service) CanFetch(ctx context.Context, vendor string, category core.DataCategory) core.FetchGate {
	return s.Provider.CanFetch(ctx, core.MarketDataRequest{Vendor: vendor, Category: category})
}

// Describe answers a dynamic-document request about the configured vendors.
func (s *Service) Describe(_ context.Context, req DocumentRequest) DocumentResponse {
	response := DocumentResponse{
		Metadata: dynamic.EncodeDocument(dynamic.DecodeDocument(req.Metadata)),
	}

	var doc *dynamic.Document
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Topic)) {
	case "", TopicVendors:
		doc = s.vendorsDocument()
	case TopicVendor:
		doc, err = s.vendorDocument(req.Vendor)
	case TopicGate:
		doc, err = s.gateDocument(req.Vendor)
	default:
		err = fmt.Errorf("unknown topic %q", req.Topic)
		response.Failure = &core.Failure{Kind: core.KindRequestValidation, Error: err.Error()}
		return response
	}
	if err != nil {
		response.Failure = &core.Failure{Kind: core.KindConfiguration, Error: err.Error()}
		return response
	}

	response.Document = dynamic.EncodeDocument(doc)
	return response
}

func (s *Service) vendorsDocument() *dynamic.Document {
	names := []dynamic.Value{}
	if s.Registry != nil {
		for _, name := range s.Registry.Names() {
			names = append(names, dynamic.String(name))
		}
	}
	return dynamic.NewDocument().Set("vendors", dynamic.ListOf(names...))
}

func (s *Service) vendorDocument(name string) (*dynamic.Document, error) {
	if s.Registry == nil {
		return nil, registry.ErrVendorNotFound
	}
	vendor, err := s.Registry.Get(name)
	if err != nil {
		return nil, err
	}

	limits := vendor.Limits()
	endpoints := dynamic.NewDocument()
	for _, endpointName := range sortedEndpointNames(vendor) {
		endpoint := vendor.Endpoints[endpointName]
		format := endpoint.Response.Format
		if format == "" {
			format = "json"
		}
		endpoints.Set(endpointName, dynamic.DocumentOf(dynamic.NewDocument().
			Set("category", dynamic.String(string(endpoint.Category))).
			Set("method", dynamic.String(endpoint.Method)).
			Set("path", dynamic.String(endpoint.Path)).
			Set("function", dynamic.String(endpoint.Function)).
			Set("format", dynamic.String(format)).
			Set("required_params", dynamic.FromNative(endpoint.RequiredParams)),
		))
	}

	doc := dynamic.NewDocument().
		Set("name", dynamic.String(vendor.Name)).
		Set("base_url", dynamic.String(vendor.BaseURL)).
		Set("has_api_key", dynamic.Bool(vendor.APIKey != "")).
		Set("rate_limit", dynamic.DocumentOf(dynamic.NewDocument().
			Set("per_minute", dynamic.Number(float64(limits.PerMinute))).
			Set("per_hour", dynamic.Number(float64(limits.PerHour))).
			Set("per_day", dynamic.Number(float64(limits.PerDay))),
		)).
		Set("endpoints", dynamic.DocumentOf(endpoints))

	if gate, err := s.gateDocument(vendor.Name); err == nil {
		doc.Set("gate", dynamic.DocumentOf(gate))
	}
	return doc, nil
}

func (s *Service) gateDocument(vendor string) (*dynamic.Document, error) {
	if s.Gate == nil {
		return nil, fmt.Errorf("unknown vendor %q", vendor)
	}
	snapshot, ok := s.Gate.Snapshot(vendor)
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q", vendor)
	}

	windows := make([]dynamic.Value, 0, len(snapshot.Windows))
	for _, window := range snapshot.Windows {
		windows = append(windows, dynamic.DocumentOf(dynamic.NewDocument().
			Set("granularity", dynamic.String(string(window.Granularity))).
			Set("limit", dynamic.Number(float64(window.Limit))).
			Set("count", dynamic.Number(float64(window.Count))).
			Set("window_end", dynamic.FromNative(window.End)),
		))
	}
	return dynamic.NewDocument().
		Set("vendor", dynamic.String(snapshot.Vendor)).
		Set("windows", dynamic.ListOf(windows...)), nil
}

func sortedEndpointNames(vendor core.VendorConfig) []string {
	names := make([]string, 0, len(vendor.Endpoints))
	for name := range vendor.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func failureOf(result core.ApiResult[*core.MarketDataResult]) *core.Failure {
	if result.Failure != nil {
		failure := *result.Failure
		return &failure
	}
	return &core.Failure{Kind: core.KindParse, Error: "empty result"}
}

func source(result core.ApiResult[*core.MarketDataResult]) string {
	if value, ok := result.Metadata[core.MetaSource].(string); ok {
		return value
	}
	return ""
}

// metadataOf flattens result metadata to JSON-safe values; times become RFC 3339 strings.
func metadataOf(result core.ApiResult[*core.MarketDataResult]) map[string]any {
	if len(result.Metadata) == 0 {
		return nil
	}
	meta, _ := dynamic.FromNative(result.Metadata).Native().(map[string]any)
	return meta
}
