package core

import "strings"

// RateLimitConfig holds per-window request ceilings. Zero disables that window.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute" yaml:"per_minute" json:"per_minute"`
	PerHour   int `mapstructure:"per_hour" yaml:"per_hour" json:"per_hour"`
	PerDay    int `mapstructure:"per_day" yaml:"per_day" json:"per_day"`
}

// Unlimited reports whether no window has a ceiling.
func (r RateLimitConfig) Unlimited() bool {
	return r.PerMinute == 0 && r.PerHour == 0 && r.PerDay == 0
}

// ResponseConfig describes how to read a vendor reply.
type ResponseConfig struct {
	// Format is json (default), csv or xml.
	Format          string            `mapstructure:"format" yaml:"format" json:"format,omitempty"`
	RootPath        string            `mapstructure:"root_path" yaml:"root_path" json:"root_path,omitempty"`
	TimestampKey    string            `mapstructure:"timestamp_key" yaml:"timestamp_key" json:"timestamp_key,omitempty"`
	TimestampFormat string            `mapstructure:"timestamp_format" yaml:"timestamp_format" json:"timestamp_format,omitempty"`
	FieldMappings   map[string]string `mapstructure:"field_mappings" yaml:"field_mappings" json:"field_mappings,omitempty"`
	// ErrorKeys name top-level keys whose presence means the vendor reported an error.
	ErrorKeys []string `mapstructure:"error_keys" yaml:"error_keys" json:"error_keys,omitempty"`
}

// EndpointConfig describes one vendor endpoint.
type EndpointConfig struct {
	Category       DataCategory      `mapstructure:"category" yaml:"category" json:"category"`
	Method         string            `mapstructure:"method" yaml:"method" json:"method,omitempty"`
	Path           string            `mapstructure:"path" yaml:"path" json:"path,omitempty"`
	Function       string            `mapstructure:"function" yaml:"function" json:"function,omitempty"`
	RequiredParams map[string]string `mapstructure:"required_params" yaml:"required_params" json:"required_params,omitempty"`
	OptionalParams map[string]string `mapstructure:"optional_params" yaml:"optional_params" json:"optional_params,omitempty"`
	Response       ResponseConfig    `mapstructure:"response" yaml:"response" json:"response"`
}

// VendorConfig is the validated configuration of one vendor. It is read-only after load.
type VendorConfig struct {
	Name      string                    `mapstructure:"name" yaml:"name" json:"name"`
	BaseURL   string                    `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	APIKey    string                    `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Headers   map[string]string         `mapstructure:"headers" yaml:"headers" json:"headers,omitempty"`
	RateLimit *RateLimitConfig          `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit,omitempty"`
	Endpoints map[string]EndpointConfig `mapstructure:"endpoints" yaml:"endpoints" json:"endpoints"`
}

// Limits returns the rate limit block, or the zero (unlimited) value when absent.
func (v VendorConfig) Limits() RateLimitConfig {
	if v.RateLimit == nil {
		return RateLimitConfig{}
	}
	return *v.RateLimit
}

// EndpointFor returns the endpoint name and config serving the category.
// Endpoint names are visited in a stable order so the choice is deterministic.
func (v VendorConfig) EndpointFor(category DataCategory) (string, EndpointConfig, bool) {
	best := ""
	for name, endpoint := range v.Endpoints {
		if endpoint.Category != category {
			continue
		}
		if best == "" || name < best {
			best = name
		}
	}
	if best == "" {
		return "", EndpointConfig{}, false
	}
	return best, v.Endpoints[best], true
}

// NormalizeVendorName is the registry and gate key for a vendor name.
func NormalizeVendorName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
