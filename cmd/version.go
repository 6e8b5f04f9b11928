package main

import (
	"os"

	ledgercore "github.com/ledgerlabs/ledgercore"
	"github.com/urfave/cli/v2"
)

func versionCmd(*cli.Context) error {
	ledgercore.PrintVersion(os.Stdout)
	return nil
}
