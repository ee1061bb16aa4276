package main

import (
	"context"
	"os"
)

func main() {
	ctx := context.Background()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		// The command already rendered the error; the exit status is the
		// only thing left to report.
		os.Exit(1)
	}
}
