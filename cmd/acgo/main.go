package main

import (
	"context"
	"fmt"
	"os"

	"acgo/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "acgo:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
