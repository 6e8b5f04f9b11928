package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	require.Equal(t, "validator-1", cfg.Validator.ValidatorID)
	require.Equal(t, uint(16), cfg.Validator.BatchSize)
	require.Equal(t, 2*time.Second, cfg.Validator.BatchInterval.Duration)
	require.Equal(t, "relayer-1", cfg.Relayer.RelayerID)
	require.Equal(t, uint32(5), cfg.Relayer.MaxRetries)
	require.Equal(t, 10*time.Second, cfg.Relayer.RetryInterval.Duration)
	require.Equal(t, uint32(1), cfg.Chain.BlockDifficulty)
	require.NotEmpty(t, cfg.Mempool.DBPath)
	require.NotEmpty(t, cfg.State.DBPath)
}

func TestLoadFromStringOverridesDefaults(t *testing.T) {
	cfg, err := LoadFromString(`
[Validator]
ValidatorID = "validator-7"
BatchSize = 4
BatchInterval = "250ms"

[Relayer]
MaxRetries = 2

[Chain]
BlockDifficulty = 3
`)
	require.NoError(t, err)

	require.Equal(t, "validator-7", cfg.Validator.ValidatorID)
	require.Equal(t, uint(4), cfg.Validator.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Validator.BatchInterval.Duration)
	require.Equal(t, uint32(2), cfg.Relayer.MaxRetries)
	require.Equal(t, uint32(3), cfg.Chain.BlockDifficulty)

	// untouched sections keep their defaults
	require.Equal(t, "relayer-1", cfg.Relayer.RelayerID)
	require.Equal(t, time.Second, cfg.Validator.WaitOnEmptyMempool.Duration)
}
