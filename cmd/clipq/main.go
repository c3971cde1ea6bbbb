// Package main is the entrypoint for the clipq client.
package main

import (
	"fmt"
	"os"

	"github.com/mbaumer/clipq/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clipq: %v\n", err)
		os.Exit(1)
	}
}
