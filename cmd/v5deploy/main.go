package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"v5deploy/internal/cli"
)

func main() {
	var root cli.CLI
	ctx := kong.Parse(&root,
		kong.Name("v5deploy"),
		kong.Description("Deploy compiled robot programs to a V5 Brain over serial or bluetooth."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&root); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := cli.Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(cli.ExitCode(err))
	}
}
