// chartprune removes charts, subcharts, and their dependency entries from a
// Helm chart tree.
package main

import (
	"os"

	"github.com/hupe1980/chartprune/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
