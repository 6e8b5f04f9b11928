package main

import (
	"os"

	ledgercore "github.com/ledgerlabs/ledgercore"
	"github.com/ledgerlabs/ledgercore/common"
	"github.com/ledgerlabs/ledgercore/config"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = cli.StringFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration file",
		Required: true,
	}
	componentsFlag = cli.StringSliceFlag{
		Name:     config.FlagComponents,
		Aliases:  []string{"co"},
		Usage:    "List of components to run",
		Required: false,
		Value:    cli.NewStringSlice(common.VALIDATOR, common.RELAYER),
	}
)

func main() {
	app := cli.NewApp()
	app.Name = ledgercore.AppName
	app.Version = ledgercore.Version
	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  versionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the ledgercore node",
			Action:  start,
			Flags:   []cli.Flag{&configFileFlag, &componentsFlag},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}
