// Package adapter reads values out of decoded response bodies. Each declared
// response type has one adapter.
package adapter

import (
	"errors"
	"strings"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

var (
	// ErrUnsupported is returned by adapters that cannot serve an operation.
	ErrUnsupported = errors.New("operation not supported for response type")
	// ErrInvalidDocument is returned for a document of the wrong shape.
	ErrInvalidDocument = errors.New("invalid response document")
)

// AllProperties selects every property of a mapped row.
const AllProperties = "*"

// ResponseAdapter decodes a response body and answers path queries on it.
type ResponseAdapter interface {
	// Decode turns a body into the adapter's document. A nil document with
	// a nil error means there is nothing to inspect.
	Decode(body []byte) (any, error)
	// Lookup returns the scalar at path. present is false when the path
	// resolves to nothing or to null.
	Lookup(doc any, path string) (value string, present bool, err error)
	// MappedLookup returns one row per element found at path, restricted
	// to props unless props is AllProperties.
	MappedLookup(doc any, path string, props []string) ([]map[string]string, error)
	// MappedCount returns the number of elements found at path.
	MappedCount(doc any, path string) (int, error)
}

// ForType returns the adapter for a declared response type. Unknown types
// read the raw body.
func ForType(rt testdef.ResponseType) ResponseAdapter {
	switch testdef.ResponseType(strings.ToLower(string(rt))) {
	case testdef.ResponseTypeJSON:
		return &jsonAdapter{}
	case testdef.ResponseTypeXML:
		return &xmlAdapter{}
	default:
		return &textAdapter{}
	}
}

func selectsAll(props []string) bool {
	return len(props) == 0 || (len(props) == 1 && props[0] == AllProperties)
}

// restrict drops every key of row not named in props.
func restrict(row map[string]string, props []string) map[string]string {
	if selectsAll(props) {
		return row
	}

	out := make(map[string]string, len(props))

	for _, p := range props {
		if v, ok := row[p]; ok {
			out[p] = v
		}
	}

	return out
}
