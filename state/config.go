package state

// Config holds the configuration of the persistence layer
type Config struct {
	// DBPath path of the state database
	DBPath string `mapstructure:"DBPath"`
}
