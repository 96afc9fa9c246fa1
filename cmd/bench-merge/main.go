package main

import (
	"os"

	"github.com/Fuabioo/bench-merge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
