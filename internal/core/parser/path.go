package parser

import (
	"sort"
	"strconv"
	"strings"
)

// resolvePath walks a dot-separated path. Segments may be list indices. A literal key
// containing dots ("05. price") wins over splitting it.
func resolvePath(node any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return node, true
	}

	if value, ok := step(node, path); ok {
		return value, true
	}

	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		head, rest := path[:i], path[i+1:]
		child, ok := step(node, head)
		if !ok {
			continue
		}
		if value, ok := resolvePath(child, rest); ok {
			return value, true
		}
	}

	return nil, false
}

func step(node any, segment string) (any, bool) {
	switch typed := node.(type) {
	case map[string]any:
		return lookupKey(typed, segment)
	case []any:
		index, err := strconv.Atoi(strings.TrimSpace(segment))
		if err != nil || index < 0 || index >= len(typed) {
			return nil, false
		}
		return typed[index], true
	default:
		return nil, false
	}
}

// lookupKey matches exactly first, then case-insensitively. When several keys
// fold to the same name the lexically smallest one wins.
func lookupKey(doc map[string]any, key string) (any, bool) {
	if value, ok := doc[key]; ok {
		return value, true
	}
	trimmed := strings.TrimSpace(key)
	var matches []string
	for candidate := range doc {
		if strings.EqualFold(strings.TrimSpace(candidate), trimmed) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return doc[matches[0]], true
}
