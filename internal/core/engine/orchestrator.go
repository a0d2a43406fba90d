package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/parser"
	"github.com/marketgate/marketgate/internal/core/registry"
)

const (
	// DefaultConcurrency bounds FetchMany when the caller passes no limit.
	DefaultConcurrency = 4

	// MaxBodyBytes caps how much of a vendor reply is read.
	MaxBodyBytes = 8 << 20

	errorSnippetBytes = 512
)

// Provider is the market-data entry point: an admission check and a fetch.
type Provider interface {
	CanFetch(ctx context.Context, req core.MarketDataRequest) core.FetchGate
	Fetch(ctx context.Context, req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult]
}

// Storage persists raw vendor replies and parsed results.
type Storage interface {
	SaveRawResponse(ctx context.Context, vendor string, category core.DataCategory, identifier string, raw string) error
	TryReadLatestRaw(ctx context.Context, vendor string, category core.DataCategory, identifier string, date *time.Time) (string, bool, error)
	ListSavedIdentifiers(ctx context.Context, vendor string, date time.Time) ([]string, error)
	SaveParsedResult(ctx context.Context, result *core.MarketDataResult) error
}

// Parser turns a raw vendor body into a canonical result.
type Parser interface {
	Parse(endpoint core.EndpointConfig, req core.MarketDataRequest, raw []byte) core.ApiResult[*core.MarketDataResult]
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(endpoint core.EndpointConfig, req core.MarketDataRequest, raw []byte) core.ApiResult[*core.MarketDataResult]

// Parse calls f.
func (f ParserFunc) Parse(endpoint core.EndpointConfig, req core.MarketDataRequest, raw []byte) core.ApiResult[*core.MarketDataResult] {
	return f(endpoint, req, raw)
}

// Logger is the logging surface the orchestrator needs. *zap.Logger satisfies it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Recorder receives orchestration metrics.
type Recorder interface {
	GateDecision(vendor string, allowed bool)
	VendorRequest(vendor string, status int, duration time.Duration)
	CacheFallback(vendor string, hit bool)
	StorageError(op string)
}

// Orchestrator implements Provider for every configured vendor.
// Vendor differences live in the registry, not in code.
type Orchestrator struct {
	Registry  *registry.Registry
	Gate      *Gate
	Storage   Storage
	Client    HTTPClient
	Parser    Parser
	Logger    Logger
	Metrics   Recorder
	Clock     func() time.Time
	UserAgent string

	// Coalesce collapses concurrent identical fetches into one vendor call.
	Coalesce bool

	flight singleflight.Group
}

var _ Provider = (*Orchestrator)(nil)

// CanFetch reports the admission decision Fetch would get now. It consumes nothing.
func (o *Orchestrator) CanFetch(ctx context.Context, req core.MarketDataRequest) core.FetchGate {
	vendor, _, err := o.resolve(req)
	if err != nil {
		return core.Deny(core.KindConfiguration, err.Error(), nil)
	}
	return o.Gate.Peek(vendor.Name)
}

// Fetch retrieves market data live, or from storage when the gate denies the call.
func (o *Orchestrator) Fetch(ctx context.Context, req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
	if ctx == nil {
		ctx = context.Background()
	}
	req = normalizeRequest(req)

	if !o.Coalesce {
		return o.fetch(ctx, req)
	}

	// The shared call outlives any one caller; each caller still honors its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(flightKey(req), func() (any, error) {
		return o.fetch(shared, req), nil
	})
	select {
	case res := <-ch:
		return res.Val.(core.ApiResult[*core.MarketDataResult])
	case <-ctx.Done():
		return core.FailWith[*core.MarketDataResult](*transportFailure(ctx, ctx.Err()))
	}
}

// FetchMany runs Fetch for every request over a bounded pool. Results keep input order.
func (o *Orchestrator) FetchMany(ctx context.Context, reqs []core.MarketDataRequest, concurrency int) []core.ApiResult[*core.MarketDataResult] {
	results := make([]core.ApiResult[*core.MarketDataResult], len(reqs))
	if len(reqs) == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	p := pool.New().WithMaxGoroutines(concurrency)
	for i, req := range reqs {
		p.Go(func() {
			results[i] = o.Fetch(ctx, req)
		})
	}
	p.Wait()

	return results
}

func (o *Orchestrator) fetch(ctx context.Context, req core.MarketDataRequest) core.ApiResult[*core.MarketDataResult] {
	vendor, endpoint, err := o.resolve(req)
	if err != nil {
		return core.Fail[*core.MarketDataResult](core.KindConfiguration, err.Error())
	}
	vendorKey := core.NormalizeVendorName(vendor.Name)

	decision := o.Gate.Admit(vendor.Name)
	o.recorder().GateDecision(vendorKey, decision.Allowed)
	if !decision.Allowed {
		return o.fallback(ctx, vendorKey, endpoint, req, decision)
	}

	params, err := ResolveParams(vendor, endpoint, req)
	if err != nil {
		return core.Fail[*core.MarketDataResult](core.KindRequestValidation, err.Error())
	}

	httpReq, err := o.buildRequest(ctx, vendor, endpoint, params)
	if err != nil {
		return core.Fail[*core.MarketDataResult](core.KindRequestValidation, err.Error())
	}

	body, failure := o.execute(vendorKey, httpReq)
	if failure != nil {
		o.logger().Warn("vendor request failed",
			zap.String("vendor", vendorKey),
			zap.String("identifier", req.Identifier),
			zap.String("kind", string(failure.Kind)),
			zap.Int("status_code", failure.StatusCode),
			zap.String("error", failure.Error),
		)
		return core.FailWith[*core.MarketDataResult](*failure)
	}

	o.saveRaw(ctx, vendorKey, req, body)

	result := o.parser().Parse(endpoint, req, body)
	if !result.Success {
		o.logger().Warn("vendor response not parsed",
			zap.String("vendor", vendorKey),
			zap.String("identifier", req.Identifier),
			zap.String("error", result.Err()),
		)
		return result
	}

	if o.Storage != nil && result.Data != nil {
		if err := o.Storage.SaveParsedResult(ctx, result.Data); err != nil {
			o.storageFailed("save_parsed", vendorKey, req, err)
		}
	}

	return result.
		WithMeta(core.MetaSource, core.SourceLive).
		WithMeta(core.MetaFetchedAt, o.now().Format(time.RFC3339))
}

// fallback serves the latest stored body when the gate denies a live call.
func (o *Orchestrator) fallback(ctx context.Context, vendorKey string, endpoint core.EndpointConfig, req core.MarketDataRequest, decision core.FetchGate) core.ApiResult[*core.MarketDataResult] {
	denied := core.FailWith[*core.MarketDataResult](core.Failure{
		Kind:       decision.Kind,
		Error:      decision.Reason,
		RetryAfter: decision.RetryAfter,
	}).WithMeta(core.MetaGateReason, decision.Reason)
	if decision.RetryAfter != nil {
		denied = denied.WithMeta(core.MetaRetryAfter, decision.RetryAfter.Format(time.RFC3339))
	}

	if decision.Kind != core.KindAdmissionDenied || o.Storage == nil {
		return denied
	}

	raw, ok, err := o.Storage.TryReadLatestRaw(ctx, vendorKey, req.Category, req.Identifier, nil)
	if err != nil {
		o.storageFailed("read_raw", vendorKey, req, err)
		ok = false
	}
	o.recorder().CacheFallback(vendorKey, ok)
	if !ok {
		return denied
	}

	result := o.parser().Parse(endpoint, req, []byte(raw))
	if !result.Success {
		o.logger().Warn("cached response not parsed",
			zap.String("vendor", vendorKey),
			zap.String("identifier", req.Identifier),
			zap.String("error", result.Err()),
		)
		return denied
	}

	o.logger().Debug("served from cache",
		zap.String("vendor", vendorKey),
		zap.String("identifier", req.Identifier),
		zap.String("gate_reason", decision.Reason),
	)

	result = result.
		WithMeta(core.MetaSource, core.SourceCache).
		WithMeta(core.MetaGateReason, decision.Reason)
	if decision.RetryAfter != nil {
		result = result.WithMeta(core.MetaRetryAfter, decision.RetryAfter.Format(time.RFC3339))
	}
	return result
}

func (o *Orchestrator) buildRequest(ctx context.Context, vendor core.VendorConfig, endpoint core.EndpointConfig, params url.Values) (*http.Request, error) {
	target, err := url.Parse(vendor.BaseURL + "/" + strings.TrimLeft(endpoint.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("build vendor url: %w", err)
	}

	var req *http.Request
	if endpoint.Method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		query := target.Query()
		for key, values := range params {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		target.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
	}

	switch strings.ToLower(endpoint.Response.Format) {
	case "csv":
		req.Header.Set("Accept", "text/csv")
	case "xml":
		req.Header.Set("Accept", "application/xml")
	default:
		req.Header.Set("Accept", "application/json")
	}
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	names := make([]string, 0, len(vendor.Headers))
	for name := range vendor.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, missing := expand(vendor.Headers[name], vendor, core.MarketDataRequest{})
		if missing != "" {
			continue
		}
		req.Header.Set(name, value)
	}

	return req, nil
}

// execute performs the vendor call and reads the body. Any failure is returned as a Failure.
func (o *Orchestrator) execute(vendorKey string, req *http.Request) ([]byte, *core.Failure) {
	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		o.recorder().VendorRequest(vendorKey, 0, time.Since(started))
		return nil, transportFailure(req.Context(), err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	o.recorder().VendorRequest(vendorKey, resp.StatusCode, time.Since(started))
	if err != nil {
		failure := transportFailure(req.Context(), err)
		failure.StatusCode = resp.StatusCode
		return nil, failure
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.Failure{
			Kind:        core.KindVendorTransport,
			Error:       fmt.Sprintf("vendor returned status %d", resp.StatusCode),
			VendorError: snippet(body),
			StatusCode:  resp.StatusCode,
			RetryAfter:  retryAfter(resp, o.now()),
		}
	}

	return body, nil
}

func (o *Orchestrator) saveRaw(ctx context.Context, vendorKey string, req core.MarketDataRequest, body []byte) {
	if o.Storage == nil || len(body) == 0 {
		return
	}
	if err := o.Storage.SaveRawResponse(ctx, vendorKey, req.Category, req.Identifier, string(body)); err != nil {
		o.storageFailed("save_raw", vendorKey, req, err)
	}
}

func (o *Orchestrator) storageFailed(op, vendorKey string, req core.MarketDataRequest, err error) {
	o.recorder().StorageError(op)
	o.logger().Warn("storage operation failed",
		zap.String("op", op),
		zap.String("vendor", vendorKey),
		zap.String("identifier", req.Identifier),
		zap.Error(err),
	)
}

func (o *Orchestrator) resolve(req core.MarketDataRequest) (core.VendorConfig, core.EndpointConfig, error) {
	if o == nil || o.Registry == nil {
		return core.VendorConfig{}, core.EndpointConfig{}, errors.New("no vendors configured")
	}
	category, ok := core.ParseCategory(string(req.Category))
	if !ok {
		return core.VendorConfig{}, core.EndpointConfig{}, fmt.Errorf("unknown category %q", req.Category)
	}
	return o.Registry.Endpoint(req.Vendor, category)
}

func (o *Orchestrator) parser() Parser {
	if o.Parser != nil {
		return o.Parser
	}
	return ParserFunc(parser.Parse)
}

func (o *Orchestrator) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func (o *Orchestrator) recorder() Recorder {
	if o.Metrics != nil {
		return o.Metrics
	}
	return nopRecorder{}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock().UTC()
	}
	return time.Now().UTC()
}

func normalizeRequest(req core.MarketDataRequest) core.MarketDataRequest {
	req.Vendor = strings.TrimSpace(req.Vendor)
	req.Identifier = strings.TrimSpace(req.Identifier)
	if category, ok := core.ParseCategory(string(req.Category)); ok {
		req.Category = category
	}
	return req
}

func flightKey(req core.MarketDataRequest) string {
	var b strings.Builder
	b.WriteString(core.NormalizeVendorName(req.Vendor))
	b.WriteByte('|')
	b.WriteString(string(req.Category))
	b.WriteByte('|')
	b.WriteString(req.Identifier)
	b.WriteByte('|')
	b.WriteString(req.Resolution)
	for _, t := range []*time.Time{req.From, req.To} {
		b.WriteByte('|')
		if t != nil {
			b.WriteString(t.UTC().Format(time.RFC3339))
		}
	}
	keys := make([]string, 0, len(req.Params))
	for key := range req.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteByte('|')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(req.Params[key])
	}
	return b.String()
}

func transportFailure(ctx context.Context, err error) *core.Failure {
	message := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		message = "vendor request timeout: " + message
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		message = "vendor request canceled: " + message
	}
	return &core.Failure{Kind: core.KindVendorTransport, Error: message}
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errorSnippetBytes {
		cut := errorSnippetBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

type nopRecorder struct{}

func (nopRecorder) GateDecision(string, bool)                 {}
func (nopRecorder) VendorRequest(string, int, time.Duration) {}
func (nopRecorder) CacheFallback(string, bool)               {}
func (nopRecorder) StorageError(string)                      {}
