package adapter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

type xmlAdapter struct{}

func (a *xmlAdapter) Decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return doc, nil
}

// xpath turns a dotted node path into an absolute xpath.
func xpath(path string) string {
	path = strings.ReplaceAll(path, ".", "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return path
}

func (a *xmlAdapter) query(doc any, path string) ([]*xmlquery.Node, error) {
	root, ok := doc.(*xmlquery.Node)
	if !ok {
		return nil, fmt.Errorf("%w: xml adapter expects *xmlquery.Node, got %T", ErrInvalidDocument, doc)
	}

	nodes, err := xmlquery.QueryAll(root, xpath(path))
	if err != nil {
		return nil, fmt.Errorf("evaluating xpath %q: %w", xpath(path), err)
	}

	return nodes, nil
}

// nodeValue returns the text of text, cdata and attribute nodes, and of
// elements whose first child is text.
func nodeValue(n *xmlquery.Node) (string, bool) {
	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode:
		return n.Data, true
	case xmlquery.AttributeNode:
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}

		return n.InnerText(), true
	case xmlquery.ElementNode:
		if c := n.FirstChild; c != nil && (c.Type == xmlquery.TextNode || c.Type == xmlquery.CharDataNode) {
			return c.Data, true
		}
	}

	return "", false
}

func (a *xmlAdapter) Lookup(doc any, path string) (string, bool, error) {
	nodes, err := a.query(doc, path)
	if err != nil || len(nodes) == 0 {
		return "", false, err
	}

	v, ok := nodeValue(nodes[0])

	return v, ok, nil
}

func (a *xmlAdapter) MappedLookup(doc any, path string, props []string) ([]map[string]string, error) {
	nodes, err := a.query(doc, path)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(nodes))

	for _, n := range nodes {
		row := make(map[string]string)

		for _, attr := range n.Attr {
			row[attr.Name.Local] = attr.Value
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}

			if v, ok := nodeValue(c); ok {
				row[c.Data] = v
			}
		}

		rows = append(rows, restrict(row, props))
	}

	return rows, nil
}

func (a *xmlAdapter) MappedCount(doc any, path string) (int, error) {
	nodes, err := a.query(doc, path)
	if err != nil {
		return 0, err
	}

	return len(nodes), nil
}
