package relayer

import (
	"github.com/ledgerlabs/ledgercore/config/types"
)

// Config holds the configuration of the commitment relaying worker
type Config struct {
	// RelayerID identifies this worker when claiming batches
	RelayerID string `mapstructure:"RelayerID"`
	// StoragePath path of the relayer database
	StoragePath string `mapstructure:"StoragePath"`
	// AnchorURL endpoint of the anchor service commitments are sent to
	AnchorURL string `mapstructure:"AnchorURL"`
	// MaxRetries is the retry budget of each batch
	MaxRetries uint32 `mapstructure:"MaxRetries"`
	// RetryInterval is how long a failed batch waits before requeueing
	RetryInterval types.Duration `mapstructure:"RetryInterval"`
	// WaitOnEmptyQueue is how long to sleep when there is nothing to relay
	WaitOnEmptyQueue types.Duration `mapstructure:"WaitOnEmptyQueue"`
}
