package validator

import (
	"github.com/ledgerlabs/ledgercore/config/types"
)

// Config holds the configuration of the validation pipeline worker
type Config struct {
	// ValidatorID identifies this worker when claiming batches
	ValidatorID string `mapstructure:"ValidatorID"`
	// StoragePath path of the validator database
	StoragePath string `mapstructure:"StoragePath"`
	// BatchSize is how many transactions are drawn from the mempool per batch
	BatchSize uint `mapstructure:"BatchSize"`
	// BatchInterval is the time between batch creation attempts
	BatchInterval types.Duration `mapstructure:"BatchInterval"`
	// WaitOnEmptyMempool is how long to sleep when there is nothing to validate
	WaitOnEmptyMempool types.Duration `mapstructure:"WaitOnEmptyMempool"`
}
