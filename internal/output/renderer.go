// Package output renders node and coordinator results for the console.
package output

import (
	"bytes"
	"io"

	"github.com/olekukonko/tablewriter"
)

// Renderer draws tables.
type Renderer interface {
	RenderToString(headers []string, rows [][]string, opts ...RenderOption) string
	RenderToWriter(w io.Writer, headers []string, rows [][]string, opts ...RenderOption)
}

type renderer struct{}

// NewRenderer creates a table renderer.
func NewRenderer() Renderer {
	return &renderer{}
}

// RenderOption adjusts a table before it is drawn.
type RenderOption func(*tablewriter.Table)

// WithColumnAlignment sets per column alignment using tablewriter constants.
func WithColumnAlignment(alignment ...int) RenderOption {
	return func(t *tablewriter.Table) {
		t.SetColumnAlignment(alignment)
	}
}

// WithRowSeparator draws a line between rows.
func WithRowSeparator(show bool) RenderOption {
	return func(t *tablewriter.Table) {
		t.SetRowLine(show)
	}
}

// WithFooter adds a footer row.
func WithFooter(footer []string) RenderOption {
	return func(t *tablewriter.Table) {
		t.SetFooter(footer)
	}
}

func (r *renderer) RenderToString(headers []string, rows [][]string, opts ...RenderOption) string {
	buf := &bytes.Buffer{}
	r.RenderToWriter(buf, headers, rows, opts...)

	return buf.String()
}

func (r *renderer) RenderToWriter(w io.Writer, headers []string, rows [][]string, opts ...RenderOption) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetBorder(true)
	table.SetTablePadding(" ")

	for _, opt := range opts {
		opt(table)
	}

	table.AppendBulk(rows)
	table.Render()
}

var _ Renderer = (*renderer)(nil)
