package main

import (
	"os"

	"github.com/mcpup/mcpup/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
