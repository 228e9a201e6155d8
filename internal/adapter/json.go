package adapter

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

type jsonAdapter struct{}

func (a *jsonAdapter) Decode(body []byte) (any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid json", ErrInvalidDocument)
	}

	return string(body), nil
}

// gjsonPath rewrites "items[0].name" style paths to "items.0.name".
func gjsonPath(path string) string {
	return indexPattern.ReplaceAllString(path, ".$1")
}

func (a *jsonAdapter) get(doc any, path string) (gjson.Result, error) {
	raw, ok := doc.(string)
	if !ok {
		return gjson.Result{}, fmt.Errorf("%w: json adapter expects a string document, got %T", ErrInvalidDocument, doc)
	}

	if path == "" || path == "$" {
		return gjson.Parse(raw), nil
	}

	return gjson.Get(raw, gjsonPath(path)), nil
}

func (a *jsonAdapter) Lookup(doc any, path string) (string, bool, error) {
	res, err := a.get(doc, path)
	if err != nil {
		return "", false, err
	}

	if !res.Exists() || res.Type == gjson.Null {
		return "", false, nil
	}

	return res.String(), true, nil
}

func (a *jsonAdapter) elements(doc any, path string) ([]gjson.Result, error) {
	res, err := a.get(doc, path)
	if err != nil {
		return nil, err
	}

	switch {
	case !res.Exists() || res.Type == gjson.Null:
		return nil, nil
	case res.IsArray():
		return res.Array(), nil
	default:
		return []gjson.Result{res}, nil
	}
}

func (a *jsonAdapter) MappedLookup(doc any, path string, props []string) ([]map[string]string, error) {
	elems, err := a.elements(doc, path)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(elems))

	for _, elem := range elems {
		row := make(map[string]string)

		if elem.IsObject() {
			elem.ForEach(func(key, value gjson.Result) bool {
				if value.Type != gjson.Null {
					row[key.String()] = value.String()
				}

				return true
			})
		} else {
			row["value"] = elem.String()
		}

		rows = append(rows, restrict(row, props))
	}

	return rows, nil
}

func (a *jsonAdapter) MappedCount(doc any, path string) (int, error) {
	elems, err := a.elements(doc, path)
	if err != nil {
		return 0, err
	}

	return len(elems), nil
}
