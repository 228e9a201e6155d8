// Package main is the entry point for the gatf-node application
package main

import "github.com/ethpandaops/gatf-node/cmd"

func main() {
	cmd.Execute()
}
