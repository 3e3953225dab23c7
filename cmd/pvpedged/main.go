// pvpedged is the pallet verification edge daemon: it keeps the expected
// handling-unit ledger fresh, correlates pallet triggers with label reads,
// decides OK/NOK per pallet, drives the line outputs and relays verdicts
// and photos to the central system.
//
// Usage:
//
//	pvpedged serve  --config /etc/pvpedge/config.yaml
//	pvpedged export --from 2026-08-01 --to 2026-08-27 --out shift.xlsx
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
