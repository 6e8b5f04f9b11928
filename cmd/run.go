package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	ledgercore "github.com/ledgerlabs/ledgercore"
	"github.com/ledgerlabs/ledgercore/anchor"
	"github.com/ledgerlabs/ledgercore/chain"
	ledgercommon "github.com/ledgerlabs/ledgercore/common"
	"github.com/ledgerlabs/ledgercore/config"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/mempool"
	"github.com/ledgerlabs/ledgercore/relayer"
	relayerdb "github.com/ledgerlabs/ledgercore/relayer/db"
	"github.com/ledgerlabs/ledgercore/state"
	"github.com/ledgerlabs/ledgercore/validator"
	validatordb "github.com/ledgerlabs/ledgercore/validator/db"
	"github.com/urfave/cli/v2"
)

func start(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	log.Init(c.Log)

	if c.Log.Environment == log.EnvironmentDevelopment {
		ledgercore.PrintVersion(os.Stdout)
		log.Info("Starting application")
	} else if c.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	components := cliCtx.StringSlice(config.FlagComponents)

	stateStorage := newStateStorage(c)

	var relayerStorage *relayerdb.RelayerSQLStorage
	var queue chain.CommitmentQueue
	if isNeeded([]string{ledgercommon.RELAYER}, components) {
		relayerStorage = newRelayerStorage(c)
		queue = relayer.NewEnqueuer(relayerStorage, c.Relayer.MaxRetries)
	}

	manager := chain.New(log.WithFields("module", "chain"), c.Chain, stateStorage, queue)
	if err := manager.Bootstrap(cliCtx.Context); err != nil {
		log.Fatal(err)
	}

	for _, component := range components {
		switch component {
		case ledgercommon.VALIDATOR:
			v := createValidator(*c, stateStorage, manager)
			go v.Start(cliCtx.Context)
		case ledgercommon.RELAYER:
			r := createRelayer(*c, relayerStorage, stateStorage)
			go r.Start(cliCtx.Context)
		}
	}

	waitSignal(nil)

	return nil
}

func createValidator(c config.Config, accounts validator.AccountReader, committer validator.BatchCommitter) *validator.Validator {
	logger := log.WithFields("module", ledgercommon.VALIDATOR)
	pool, err := mempool.New(c.Mempool)
	if err != nil {
		logger.Fatal(err)
	}
	storage, err := validatordb.NewValidatorSQLStorage(logger, c.Validator.StoragePath)
	if err != nil {
		logger.Fatal(err)
	}

	return validator.New(logger, c.Validator, pool, storage, accounts, committer)
}

func createRelayer(c config.Config, storage *relayerdb.RelayerSQLStorage, blocks relayer.BlockReader) *relayer.Relayer {
	logger := log.WithFields("module", ledgercommon.RELAYER)
	sender := anchor.NewClient(c.Relayer.AnchorURL)

	return relayer.New(logger, c.Relayer, storage, blocks, sender)
}

func newStateStorage(c *config.Config) *state.SQLStorage {
	storage, err := state.NewStorage(log.WithFields("module", "state"), c.State)
	if err != nil {
		log.Fatal(err)
	}

	return storage
}

func newRelayerStorage(c *config.Config) *relayerdb.RelayerSQLStorage {
	storage, err := relayerdb.NewRelayerSQLStorage(log.WithFields("module", ledgercommon.RELAYER), c.Relayer.StoragePath)
	if err != nil {
		log.Fatal(err)
	}

	return storage
}

func logVersion() {
	log.Infof("Starting application, gitRevision: %s, gitBranch: %s, goVersion: %s, built: %s, os/arch: %s",
		ledgercore.GitRev,
		ledgercore.GitBranch,
		runtime.Version(),
		ledgercore.BuildDate,
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func waitSignal(cancelFuncs []context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	for sig := range signals {
		switch sig {
		case os.Interrupt, os.Kill:
			log.Info("terminating application gracefully...")

			exitStatus := 0
			for _, cancel := range cancelFuncs {
				cancel()
			}
			os.Exit(exitStatus)
		}
	}
}

func isNeeded(casesWhereNeeded, actualCases []string) bool {
	for _, actualCase := range actualCases {
		for _, caseWhereNeeded := range casesWhereNeeded {
			if actualCase == caseWhereNeeded {
				return true
			}
		}
	}

	return false
}
