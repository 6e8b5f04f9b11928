package chain

// Config holds the configuration of the chain manager
type Config struct {
	// BlockDifficulty is stamped into the header of every assembled block
	BlockDifficulty uint32 `mapstructure:"BlockDifficulty"`
}
