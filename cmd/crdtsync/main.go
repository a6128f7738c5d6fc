package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/go-crdt-kit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
