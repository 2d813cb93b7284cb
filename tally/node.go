package tally

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// Node is the intermediate tree a Tally response is parsed into. Accessors
// are nil-safe so record builders can chase deep paths without guarding
// every hop; a missing element reads as an empty value.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// parseTree lexes sanitized XML into a Node tree. The returned node is a
// synthetic document node whose children are the top-level elements, so
// lookups start at root.Child("ENVELOPE") like the raw response reads.
// Any structural failure yields nil; callers treat that as "no data".
func parseTree(raw string) *Node {
	clean := sanitizeXML(raw)
	decoder := xml.NewDecoder(strings.NewReader(clean))

	doc := &Node{Name: ""}
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			logg().WithField("module", "tally").
				WithField("raw", truncate(raw, 200)).
				Warnf("XML parse error: %v", err)
			return nil
		}
		if start, ok := tok.(xml.StartElement); ok {
			child, err := parseElement(decoder, start)
			if err != nil {
				logg().WithField("module", "tally").
					WithField("raw", truncate(raw, 200)).
					Warnf("XML parse error: %v", err)
				return nil
			}
			doc.Children = append(doc.Children, child)
		}
	}
	if len(doc.Children) == 0 {
		return nil
	}
	return doc
}

func parseElement(decoder *xml.Decoder, start xml.StartElement) (*Node, error) {
	node := &Node{Name: start.Name.Local}
	if len(start.Attr) > 0 {
		node.Attrs = make(map[string]string, len(start.Attr))
		for _, attr := range start.Attr {
			node.Attrs[attr.Name.Local] = attr.Value
		}
	}
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(decoder, t)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		case xml.CharData:
			node.Text += string(t)
		case xml.EndElement:
			return node, nil
		}
	}
}

// Child returns the first child element with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildList returns every child element with the given name. Tally
// serializes single-element collections as a bare object; collecting by
// name normalizes that to a one-element list.
func (n *Node) ChildList(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, child := range n.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

// Path walks a chain of first-child lookups.
func (n *Node) Path(names ...string) *Node {
	current := n
	for _, name := range names {
		current = current.Child(name)
	}
	return current
}

// Value returns the node's trimmed text content.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// Str returns the trimmed text of the named child, "" when absent.
func (n *Node) Str(name string) string {
	return n.Child(name).Value()
}

// Float parses the named child as a Tally numeric field.
func (n *Node) Float(name string) float64 {
	return safeFloat(n.Child(name).Value())
}

// Attr returns an attribute value, "" when absent.
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return strings.TrimSpace(n.Attrs[key])
}

// safeFloat parses Tally numeric strings, which may contain thousands
// separators or stray whitespace. Unparseable values default to 0.
func safeFloat(value string) float64 {
	cleaned := strings.ReplaceAll(value, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
