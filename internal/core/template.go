package core

import "strings"

// TemplatePlaceholders returns the {name} tokens referenced by a parameter template,
// lowercased, in order of appearance. A format suffix ({from:unix}) is not part of the name.
func TemplatePlaceholders(template string) []string {
	var out []string
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return out
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			return out
		}
		name, _, _ := strings.Cut(rest[open+1:open+1+end], ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
		rest = rest[open+1+end+1:]
	}
}
