// Command tokenbridge serves and streams generations from a native engine.
package main

import (
	"os"

	"tokenbridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
