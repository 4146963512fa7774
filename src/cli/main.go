package main

import (
	"os"

	"github.com/sofmeright/freightline/src/cli/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
