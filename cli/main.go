package main

import (
	"os"

	"switchyard/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
