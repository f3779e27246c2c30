package main

import (
	"os"

	"skin_sheet/internal/app"
	"skin_sheet/internal/cli"
)

func main() {
	app.SetupEnvironment()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
