package main

import (
	"os"

	"regdesk/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
