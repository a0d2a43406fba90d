// Package parser converts raw vendor replies into canonical market-data results.
//
// Parse never panics: every malformed input comes back as a failed ApiResult
// with a ParseError kind.
package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/marketgate/marketgate/internal/core"
)

// Failure messages callers may match on.
const (
	MsgEmptyBody            = "empty response body"
	MsgRootPathNotFound     = "root path not found"
	MsgUnparseableTimestamp = "unparseable timestamp"
	MsgVendorError          = "vendor reported an error"
)

// Parse decodes raw according to the endpoint's response rules.
func Parse(cfg core.EndpointConfig, req core.MarketDataRequest, raw []byte) (result core.ApiResult[*core.MarketDataResult]) {
	defer func() {
		if r := recover(); r != nil {
			result = fail(fmt.Sprintf("parser panic: %v", r))
		}
	}()

	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return fail(MsgEmptyBody)
	}

	rules := cfg.Response
	doc, err := decode(rules.Format, raw)
	if err != nil {
		return fail(err.Error())
	}

	if message, ok := vendorError(doc, rules.ErrorKeys); ok {
		return core.FailWith[*core.MarketDataResult](core.Failure{
			Kind:        core.KindParse,
			Error:       MsgVendorError,
			VendorError: message,
		})
	}

	root, ok := resolvePath(doc, rules.RootPath)
	if !ok {
		return fail(MsgRootPathNotFound)
	}

	category := cfg.Category
	if category == "" {
		category = req.Category
	}

	out := &core.MarketDataResult{
		Vendor:     core.NormalizeVendorName(req.Vendor),
		Identifier: strings.TrimSpace(req.Identifier),
		Category:   category,
	}

	switch category {
	case core.CategorySeries:
		err = parseSeries(rules, root, out)
	default:
		err = parseQuote(rules, root, out)
	}
	if err != nil {
		return fail(err.Error())
	}

	return core.Ok(out)
}

func fail(message string) core.ApiResult[*core.MarketDataResult] {
	return core.Fail[*core.MarketDataResult](core.KindParse, message)
}

// vendorError reports the first configured error key present at the document top.
func vendorError(doc any, keys []string) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}
	top, ok := doc.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range keys {
		value, found := lookupKey(top, key)
		if !found {
			continue
		}
		return text(value), true
	}
	return "", false
}

// mappedKey returns the vendor key for a canonical field, defaulting to the field name.
func mappedKey(rules core.ResponseConfig, field string) string {
	if key, ok := rules.FieldMappings[field]; ok && strings.TrimSpace(key) != "" {
		return key
	}
	return field
}

// extraFields lists mapped canonical names that have no typed slot.
func extraFields(rules core.ResponseConfig) []string {
	known := map[string]bool{core.FieldCurrency: true, core.FieldSymbol: true}
	for _, field := range core.NumericFields {
		known[field] = true
	}

	var out []string
	for field := range rules.FieldMappings {
		if !known[field] {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}
