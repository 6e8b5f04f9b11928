package common

const (
	// VALIDATOR name to identify the validator component
	VALIDATOR = "validator" //nolint:stylecheck
	// RELAYER name to identify the relayer component
	RELAYER = "relayer" //nolint:stylecheck
)
