package main

import (
	"context"
	"os"

	"fmrivae/pkg/pipeline"
)

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		if pipeline.IsUserError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
