package engine

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marketgate/marketgate/internal/core"
)

// DefaultDateLayout formats {from} and {to} when the template names no layout.
const DefaultDateLayout = "2006-01-02"

// MissingParamError reports a required placeholder the request cannot resolve.
type MissingParamError struct {
	Param       string
	Placeholder string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("required parameter %q: no value for placeholder {%s}", e.Param, e.Placeholder)
}

// ResolveParams expands the endpoint's parameter templates against the request.
// A required template that cannot be fully resolved is an error; an optional one is dropped.
func ResolveParams(vendor core.VendorConfig, endpoint core.EndpointConfig, req core.MarketDataRequest) (url.Values, error) {
	values := url.Values{}

	if endpoint.Function != "" {
		if _, ok := endpoint.RequiredParams["function"]; !ok {
			values.Set("function", endpoint.Function)
		}
	}

	for _, name := range sortedKeys(endpoint.RequiredParams) {
		value, missing := expand(endpoint.RequiredParams[name], vendor, req)
		if missing != "" {
			return nil, &MissingParamError{Param: name, Placeholder: missing}
		}
		values.Set(name, value)
	}

	for _, name := range sortedKeys(endpoint.OptionalParams) {
		value, missing := expand(endpoint.OptionalParams[name], vendor, req)
		if missing != "" || value == "" {
			continue
		}
		values.Set(name, value)
	}

	return values, nil
}

// expand substitutes every {placeholder} in template. It returns the name of the
// first placeholder without a value, if any.
func expand(template string, vendor core.VendorConfig, req core.MarketDataRequest) (string, string) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}

		b.WriteString(rest[:open])
		token := rest[open+1 : open+1+end]
		rest = rest[open+1+end+1:]

		name, format, _ := strings.Cut(token, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		value, ok := lookup(name, strings.TrimSpace(format), vendor, req)
		if !ok {
			return "", name
		}
		b.WriteString(value)
	}
	return b.String(), ""
}

// lookup resolves a placeholder. symbol and apikey come only from the request
// identifier and the vendor config, so caller params can never redirect a fetch
// to another instrument or credential. Range placeholders take req.Params only
// when the request field is unset.
func lookup(name, format string, vendor core.VendorConfig, req core.MarketDataRequest) (string, bool) {
	switch name {
	case "symbol":
		identifier := strings.TrimSpace(req.Identifier)
		return identifier, identifier != ""
	case "apikey":
		return vendor.APIKey, vendor.APIKey != ""
	}

	var value string
	var ok bool
	switch name {
	case "from":
		value, ok = formatTime(req.From, format)
	case "to":
		value, ok = formatTime(req.To, format)
	case "resolution", "interval":
		value = strings.TrimSpace(req.Resolution)
		ok = value != ""
	}
	if ok {
		return value, true
	}
	return param(req.Params, name)
}

func param(params map[string]string, name string) (string, bool) {
	for key, value := range params {
		if strings.EqualFold(key, name) && strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}

func formatTime(t *time.Time, format string) (string, bool) {
	if t == nil || t.IsZero() {
		return "", false
	}
	utc := t.UTC()
	switch strings.ToLower(format) {
	case "":
		return utc.Format(DefaultDateLayout), true
	case "unix":
		return strconv.FormatInt(utc.Unix(), 10), true
	case "unixms":
		return strconv.FormatInt(utc.UnixMilli(), 10), true
	default:
		return utc.Format(format), true
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
