package main

import (
	"os"

	"github.com/dshills/lens/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
