// Package protocol implements the framed wire format spoken between a
// coordinator and a node.
package protocol

import "fmt"

// Command tags each protocol step. The numeric order is part of the wire
// format.
type Command uint8

const (
	// CommandInvalid answers a request that could not be honoured.
	CommandInvalid Command = iota
	// CommandConfigShareReq carries the shared configuration.
	CommandConfigShareReq
	// CommandConfigShareRes acknowledges the shared configuration.
	CommandConfigShareRes
	// CommandTestsShareReq carries the test set to execute.
	CommandTestsShareReq
	// CommandTestsShareRes acknowledges the test set, and later precedes the
	// final status and archive.
	CommandTestsShareRes
	// CommandSeleniumReq carries a remote unit bundle and unit list.
	CommandSeleniumReq
	// CommandSeleniumRes precedes the remote unit status code.
	CommandSeleniumRes
	// CommandLoadTestsRes precedes one telemetry entry.
	CommandLoadTestsRes

	commandCount
)

var commandNames = [...]string{
	CommandInvalid:        "INVALID",
	CommandConfigShareReq: "CONFIG_SHARE_REQ",
	CommandConfigShareRes: "CONFIG_SHARE_RES",
	CommandTestsShareReq:  "TESTS_SHARE_REQ",
	CommandTestsShareRes:  "TESTS_SHARE_RES",
	CommandSeleniumReq:    "SELENIUM_REQ",
	CommandSeleniumRes:    "SELENIUM_RES",
	CommandLoadTestsRes:   "LOAD_TESTS_RES",
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c < commandCount
}

func (c Command) String() string {
	if !c.Valid() {
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}

	return commandNames[c]
}

// Selenium status codes written after CommandSeleniumRes.
const (
	// SeleniumExecuting means drivers resolved and unit results follow.
	SeleniumExecuting int32 = 0
	// SeleniumDriverMissing means a declared driver could not be found.
	SeleniumDriverMissing int32 = 1
	// SeleniumRejected means the request was not acceptable.
	SeleniumRejected int32 = 2
)
