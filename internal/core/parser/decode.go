package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// decode turns a body into a tree of map[string]any, []any, json.Number, string, bool and nil.
func decode(format string, raw []byte) (any, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return decodeJSON(raw)
	case "csv":
		return decodeCSV(raw)
	case "xml":
		return decodeXML(raw)
	default:
		return nil, fmt.Errorf("unsupported response format %q", format)
	}
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode json body: unexpected data after document")
	}
	return doc, nil
}

// decodeCSV maps a header row plus data rows to documents. A single row yields one document.
func decodeCSV(raw []byte) (any, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv body: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("decode csv body: no header row")
	}

	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[strings.TrimSpace(name)] = record[i]
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 1 {
		return rows[0], nil
	}
	return rows, nil
}

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

// decodeXML maps the element tree to nested documents keyed by local element name.
// Repeated siblings become lists; attributes are stored under "@name".
func decodeXML(raw []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("decode xml body: no root element")
	}
	if len(stack) > 0 {
		return nil, errors.New("decode xml body: unexpected end of document")
	}

	return map[string]any{root.name: root.value()}, nil
}

func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	if len(n.children) == 0 && len(n.attrs) == 0 {
		return text
	}

	doc := make(map[string]any, len(n.children)+len(n.attrs))
	for _, attr := range n.attrs {
		doc["@"+attr.Name.Local] = attr.Value
	}
	for _, child := range n.children {
		value := child.value()
		existing, ok := doc[child.name]
		if !ok {
			doc[child.name] = value
			continue
		}
		if list, isList := existing.([]any); isList {
			doc[child.name] = append(list, value)
		} else {
			doc[child.name] = []any{existing, value}
		}
	}
	if text != "" {
		doc["#text"] = text
	}
	return doc
}
