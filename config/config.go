package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledgerlabs/ledgercore/chain"
	"github.com/ledgerlabs/ledgercore/log"
	"github.com/ledgerlabs/ledgercore/mempool"
	"github.com/ledgerlabs/ledgercore/relayer"
	"github.com/ledgerlabs/ledgercore/state"
	"github.com/ledgerlabs/ledgercore/validator"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	// FlagCfg is the flag for cfg.
	FlagCfg = "cfg"
	// FlagComponents is the flag for components.
	FlagComponents = "components"

	// EnvVarPrefix is the prefix used by environment variable overrides.
	EnvVarPrefix = "LEDGERCORE"
	// ConfigType is the file format of the configuration.
	ConfigType = "toml"
)

// Config represents the configuration of the whole ledger node
type Config struct {
	// Log configures level, environment and outputs for all the services
	Log log.Config
	// Mempool is the config of the pending transaction pool
	Mempool mempool.Config
	// Validator is the config of the validation pipeline worker
	Validator validator.Config
	// Relayer is the config of the commitment relaying worker
	Relayer relayer.Config
	// State is the config of the persistence layer
	State state.Config
	// Chain is the config of the chain manager
	Chain chain.Config
}

// Default returns the default configuration
func Default() (*Config, error) {
	cfg := &Config{}

	if err := loadString(cfg, DefaultValues, ConfigType, false, EnvVarPrefix); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads the configuration from the file pointed by the cli flag,
// layered on top of the defaults
func Load(ctx *cli.Context) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	configFilePath := ctx.String(FlagCfg)
	if configFilePath == "" {
		return cfg, nil
	}

	fileContent, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFilePath, err)
	}

	if err := loadString(cfg, string(fileContent), ConfigType, true, EnvVarPrefix); err != nil {
		return nil, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	return cfg, nil
}

// LoadFromString loads the configuration from a raw TOML string, layered on
// top of the defaults. Used mostly by tests.
func LoadFromString(configData string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if err := loadString(cfg, configData, ConfigType, true, EnvVarPrefix); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadString(cfg *Config, configData string, configType string, allowEnvVars bool, envPrefix string) error {
	viper.SetConfigType(configType)
	if allowEnvVars {
		replacer := strings.NewReplacer(".", "_")
		viper.SetEnvKeyReplacer(replacer)
		viper.SetEnvPrefix(envPrefix)
		viper.AutomaticEnv()
	}
	err := viper.ReadConfig(bytes.NewBuffer([]byte(configData)))
	if err != nil {
		return err
	}
	decodeHooks := []viper.DecoderConfigOption{
		// this allows arrays to be decoded from env var separated by ",", example: MY_VAR="value1,value2,value3"
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(), mapstructure.StringToSliceHookFunc(","))),
	}

	return viper.Unmarshal(&cfg, decodeHooks...)
}
