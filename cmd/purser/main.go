// Command purser downloads market data and keeps a lot-level portfolio
// ledger with daily PnL valuation.
package main

import (
	"os"

	"github.com/aristath/purser/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
