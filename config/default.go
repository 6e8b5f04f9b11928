package config

// DefaultValues is the default configuration
const DefaultValues = `
[Log]
Environment = "development" # "production" or "development"
Level = "info"
Outputs = ["stderr"]

[Mempool]
DBPath = "/tmp/ledgercore/mempool"

[Validator]
ValidatorID = "validator-1"
StoragePath = "/tmp/ledgercore/validator.sqlite"
BatchSize = 16
BatchInterval = "2s"
WaitOnEmptyMempool = "1s"

[Relayer]
RelayerID = "relayer-1"
StoragePath = "/tmp/ledgercore/relayer.sqlite"
AnchorURL = "http://localhost:8765"
MaxRetries = 5
RetryInterval = "10s"
WaitOnEmptyQueue = "5s"

[State]
DBPath = "/tmp/ledgercore/state.sqlite"

[Chain]
BlockDifficulty = 1
`
