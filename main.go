package main

import (
	"context"
	"os"
)

func main() {
	ctx := shutdownContext(context.Background())

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		exitOnError(err)
	}

	os.Exit(0)
}
