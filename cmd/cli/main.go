// Command commentctl manages comment topics on a store node: accounts, public
// names, comments, and a local web widget.
package main

import (
	"os"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
