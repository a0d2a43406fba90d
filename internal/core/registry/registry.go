// Package registry holds the validated vendor configurations the gateway serves.
//
// A Registry is built once at startup and never mutated afterwards, so lookups
// need no locking.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/marketgate/marketgate/internal/core"
)

var (
	// ErrVendorNotFound is returned when no vendor is registered under a name.
	ErrVendorNotFound = errors.New("vendor not found")

	// ErrEndpointNotFound is returned when a vendor has no endpoint for a category.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Registry maps vendor names to their configuration.
type Registry struct {
	vendors map[string]core.VendorConfig
	names   []string
}

// New validates the configurations and returns a frozen registry.
// Every problem found is reported in the returned error.
func New(configs ...core.VendorConfig) (*Registry, error) {
	r := &Registry{vendors: make(map[string]core.VendorConfig, len(configs))}

	var errs []error
	for i, cfg := range configs {
		cfg = normalize(cfg)
		if err := Validate(cfg); err != nil {
			label := cfg.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i)
			}
			errs = append(errs, fmt.Errorf("vendor %s: %w", label, err))
			continue
		}

		key := core.NormalizeVendorName(cfg.Name)
		if _, exists := r.vendors[key]; exists {
			errs = append(errs, fmt.Errorf("vendor %s: duplicate vendor name", cfg.Name))
			continue
		}
		r.vendors[key] = cfg
		r.names = append(r.names, cfg.Name)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid vendor configuration: %w", errors.Join(errs...))
	}

	sort.Strings(r.names)
	return r, nil
}

// Get returns the configuration for a vendor.
func (r *Registry) Get(name string) (core.VendorConfig, error) {
	if r == nil {
		return core.VendorConfig{}, fmt.Errorf("%w: %q", ErrVendorNotFound, name)
	}
	cfg, ok := r.vendors[core.NormalizeVendorName(name)]
	if !ok {
		return core.VendorConfig{}, fmt.Errorf("%w: %q", ErrVendorNotFound, name)
	}
	return cfg, nil
}

// Endpoint returns the vendor and the endpoint serving the category.
func (r *Registry) Endpoint(name string, category core.DataCategory) (core.VendorConfig, core.EndpointConfig, error) {
	cfg, err := r.Get(name)
	if err != nil {
		return core.VendorConfig{}, core.EndpointConfig{}, err
	}
	_, endpoint, ok := cfg.EndpointFor(category)
	if !ok {
		return cfg, core.EndpointConfig{}, fmt.Errorf("%w: vendor %q has no %s endpoint", ErrEndpointNotFound, cfg.Name, category)
	}
	return cfg, endpoint, nil
}

// Names returns the registered vendor names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Limits returns the rate limits of every vendor keyed by normalized name.
func (r *Registry) Limits() map[string]core.RateLimitConfig {
	if r == nil {
		return nil
	}
	out := make(map[string]core.RateLimitConfig, len(r.vendors))
	for key, cfg := range r.vendors {
		out[key] = cfg.Limits()
	}
	return out
}

// Len returns the number of registered vendors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.vendors)
}

// Validate checks a single vendor configuration.
func Validate(cfg core.VendorConfig) error {
	var errs []error

	if strings.TrimSpace(cfg.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if parsed, err := url.Parse(cfg.BaseURL); err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute http(s) url", cfg.BaseURL))
	}

	if cfg.RateLimit == nil {
		errs = append(errs, errors.New("rate_limit block is required"))
	} else if cfg.RateLimit.PerMinute < 0 || cfg.RateLimit.PerHour < 0 || cfg.RateLimit.PerDay < 0 {
		errs = append(errs, errors.New("rate_limit ceilings must not be negative"))
	}

	if len(cfg.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one endpoint is required"))
	}

	names := make([]string, 0, len(cfg.Endpoints))
	for name := range cfg.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateEndpoint(cfg.Endpoints[name]); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func validateEndpoint(endpoint core.EndpointConfig) error {
	if !endpoint.Category.Valid() {
		return fmt.Errorf("unknown category %q", endpoint.Category)
	}

	switch strings.ToUpper(endpoint.Method) {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("unsupported method %q", endpoint.Method)
	}

	switch strings.ToLower(endpoint.Response.Format) {
	case "", "json", "csv", "xml":
	default:
		return fmt.Errorf("unsupported response format %q", endpoint.Response.Format)
	}

	if len(endpoint.RequiredParams) == 0 {
		return errors.New("at least one required parameter is required")
	}

	for name, template := range endpoint.RequiredParams {
		if endpoint.Category.Recognizes(name) {
			return nil
		}
		for _, placeholder := range core.TemplatePlaceholders(template) {
			if endpoint.Category.Recognizes(placeholder) {
				return nil
			}
		}
	}

	return fmt.Errorf("no required parameter is recognized by category %s (expected one of %s)",
		endpoint.Category, strings.Join(endpoint.Category.Placeholders(), ", "))
}

func normalize(cfg core.VendorConfig) core.VendorConfig {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	// api_key may reference the environment, e.g. ${ALPHA_VANTAGE_KEY}.
	cfg.APIKey = strings.TrimSpace(os.ExpandEnv(cfg.APIKey))

	if len(cfg.Endpoints) > 0 {
		endpoints := make(map[string]core.EndpointConfig, len(cfg.Endpoints))
		for name, endpoint := range cfg.Endpoints {
			if category, ok := core.ParseCategory(string(endpoint.Category)); ok {
				endpoint.Category = category
			}
			endpoint.Method = strings.ToUpper(strings.TrimSpace(endpoint.Method))
			if endpoint.Method == "" {
				endpoint.Method = "GET"
			}
			endpoints[name] = endpoint
		}
		cfg.Endpoints = endpoints
	}

	if cfg.RateLimit != nil {
		limits := *cfg.RateLimit
		cfg.RateLimit = &limits
	}

	return cfg
}
