package mempool

// Config holds the configuration of the pending transaction pool
type Config struct {
	// DBPath path of the mempool database
	DBPath string `mapstructure:"DBPath"`
}
