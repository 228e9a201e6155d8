package adapter

import "fmt"

// textAdapter treats the whole body as the only value.
type textAdapter struct{}

func (a *textAdapter) Decode(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}

	return string(body), nil
}

func (a *textAdapter) Lookup(doc any, _ string) (string, bool, error) {
	s, ok := doc.(string)
	if !ok {
		return "", false, nil
	}

	return s, true, nil
}

func (a *textAdapter) MappedLookup(_ any, path string, _ []string) ([]map[string]string, error) {
	return nil, fmt.Errorf("%w: mapped value %s", ErrUnsupported, path)
}

func (a *textAdapter) MappedCount(_ any, path string) (int, error) {
	return 0, fmt.Errorf("%w: mapped count %s", ErrUnsupported, path)
}
