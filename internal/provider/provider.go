// Package provider resolves indexed rows from named data tables.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNomenclature is returned for a reference that is not table.index.property.
	ErrNomenclature = errors.New("invalid nomenclature for provider validation node, expected table.index.property")
	// ErrProviderNotFound is returned for an unknown table.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrIndexNotNumeric is returned when the index is not an integer.
	ErrIndexNotNumeric = errors.New("provider index has to be a number")
	// ErrIndexOutOfRange is returned when the index is outside the table.
	ErrIndexOutOfRange = errors.New("specified index is outside provider data range")
	// ErrRowNotFound is returned for a nil row.
	ErrRowNotFound = errors.New("provider row not found")
	// ErrPropertyNotFound is returned when the row lacks the property.
	ErrPropertyNotFound = errors.New("specified provider property not found")
	// ErrNoLiveSource is returned when a live provider is requested without a source.
	ErrNoLiveSource = errors.New("no live provider source configured")
)

// Table is an ordered set of rows.
type Table []map[string]string

// LiveSource fetches live provider tables.
type LiveSource interface {
	Start(ctx context.Context) error
	Stop() error
	// Fetch returns the current rows of the live provider name. source is
	// the query or key configured for it, possibly empty.
	Fetch(ctx context.Context, name, source string) (Table, error)
}

// Ref addresses one property of one row.
type Ref struct {
	Table    string
	Index    int
	Property string
}

// ParseRef parses "table.index.property".
func ParseRef(ref string) (Ref, error) {
	parts := strings.Split(ref, ".")
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("%w - %s", ErrNomenclature, ref)
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return Ref{}, fmt.Errorf("%w - %s", ErrIndexNotNumeric, parts[1])
	}

	return Ref{Table: parts[0], Index: index, Property: parts[2]}, nil
}

// Resolver looks up provider tables. Static tables are read-only after
// construction and safe for concurrent reads.
type Resolver struct {
	log    logrus.FieldLogger
	static map[string]Table
	live   map[string]string
	source LiveSource
}

// NewResolver creates a resolver over static tables and the live provider
// definitions. source may be nil when no live providers are used.
func NewResolver(log logrus.FieldLogger, static map[string][]map[string]string, live map[string]string, source LiveSource) *Resolver {
	tables := make(map[string]Table, len(static))
	for name, rows := range static {
		tables[name] = rows
	}

	return &Resolver{
		log:    log.WithField("component", "provider_resolver"),
		static: tables,
		live:   live,
		source: source,
	}
}

// Static returns a static table.
func (r *Resolver) Static(name string) (Table, bool) {
	t, ok := r.static[name]
	return t, ok
}

// Live fetches the current rows of a live provider.
func (r *Resolver) Live(ctx context.Context, name string) (Table, error) {
	source, ok := r.live[name]
	if !ok {
		return nil, fmt.Errorf("%w - %s", ErrProviderNotFound, name)
	}

	if r.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLiveSource, name)
	}

	table, err := r.source.Fetch(ctx, name, source)
	if err != nil {
		return nil, fmt.Errorf("fetching live provider %s: %w", name, err)
	}

	r.log.WithFields(logrus.Fields{
		"provider": name,
		"rows":     len(table),
	}).Debug("fetched live provider")

	return table, nil
}

// Table returns the named static or live table. Unknown static tables fall
// back to a live provider of the same name.
func (r *Resolver) Table(ctx context.Context, name string, live bool) (Table, error) {
	if !live {
		if t, ok := r.static[name]; ok {
			return t, nil
		}

		if _, ok := r.live[name]; !ok {
			return nil, fmt.Errorf("%w - %s", ErrProviderNotFound, name)
		}
	}

	return r.Live(ctx, name)
}

// Resolve returns the property addressed by ref.
func (r *Resolver) Resolve(ctx context.Context, ref string, live bool) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	table, err := r.Table(ctx, parsed.Table, live)
	if err != nil {
		return "", err
	}

	return Lookup(table, parsed)
}

// Lookup reads ref out of table, bounds checking the index against the
// table's current length.
func Lookup(table Table, ref Ref) (string, error) {
	if ref.Index < 0 || ref.Index >= len(table) {
		return "", fmt.Errorf("%w - %d", ErrIndexOutOfRange, ref.Index)
	}

	row := table[ref.Index]
	if row == nil {
		return "", fmt.Errorf("%w - %d", ErrRowNotFound, ref.Index)
	}

	v, ok := row[ref.Property]
	if !ok {
		return "", fmt.Errorf("%w - %s", ErrPropertyNotFound, ref.Property)
	}

	return v, nil
}
