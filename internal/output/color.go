package output

import (
	"fmt"

	"github.com/fatih/color"
)

// Colors wraps fatih/color so that output stays plain when color is off.
type Colors struct {
	enabled bool
}

// NewColors creates a helper. Colors are enabled only on a terminal.
func NewColors() *Colors {
	return &Colors{enabled: !color.NoColor}
}

func (c *Colors) paint(text string, attrs ...color.Attribute) string {
	if !c.enabled {
		return text
	}

	return color.New(attrs...).Sprint(text)
}

// Success returns green text.
func (c *Colors) Success(text string) string { return c.paint(text, color.FgGreen) }

// Failure returns red text.
func (c *Colors) Failure(text string) string { return c.paint(text, color.FgRed) }

// Warning returns yellow text.
func (c *Colors) Warning(text string) string { return c.paint(text, color.FgYellow) }

// Muted returns gray text.
func (c *Colors) Muted(text string) string { return c.paint(text, color.FgHiBlack) }

// Bold returns bold text.
func (c *Colors) Bold(text string) string { return c.paint(text, color.Bold) }

// Header returns bold cyan text.
func (c *Colors) Header(text string) string { return c.paint(text, color.FgCyan, color.Bold) }

// Status renders a pass or fail marker.
func (c *Colors) Status(passed bool) string {
	if passed {
		return c.Success("✓ PASS")
	}

	return c.Failure("✗ FAIL")
}

// Ratio renders passed/total, green when all passed and red when none did.
func (c *Colors) Ratio(passed, total int) string {
	text := fmt.Sprintf("%d/%d", passed, total)

	switch {
	case passed == total:
		return c.Success(text)
	case passed == 0:
		return c.Failure(text)
	default:
		return c.Warning(text)
	}
}

// UnitStatus renders a remote unit status code.
func (c *Colors) UnitStatus(code int32) string {
	switch code {
	case 0:
		return c.Success("executing")
	case 1:
		return c.Warning("driver missing")
	case 2:
		return c.Failure("rejected")
	default:
		return c.Muted(fmt.Sprintf("status %d", code))
	}
}
