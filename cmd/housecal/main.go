package main

import (
	"os"

	"housecal/internal/cli"
	appLog "housecal/internal/log"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		appLog.Error("housecal failed", err)
		os.Exit(cli.GetExitCode(err))
	}
}
