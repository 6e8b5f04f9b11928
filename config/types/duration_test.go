package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	type testCase struct {
		name           string
		input          string
		expectedResult *Duration
		expectedErr    error
	}

	testCases := []testCase{
		{
			name:           "valid duration",
			input:          "60s",
			expectedResult: &Duration{Duration: time.Minute},
		},
		{
			name:           "valid composed duration",
			input:          "1h30m",
			expectedResult: &Duration{Duration: 90 * time.Minute},
		},
		{
			name:        "int value",
			input:       "60",
			expectedErr: &time.ParseError{},
		},
		{
			name:        "no duration value",
			input:       "abc",
			expectedErr: &time.ParseError{},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(testCase.input))

			if testCase.expectedResult != nil {
				require.Equal(t, (*testCase.expectedResult).Nanoseconds(), d.Nanoseconds())
			}

			if err != nil {
				require.IsType(t, testCase.expectedErr, err)
			}
		})
	}
}

func TestDurationMarshalRoundTrip(t *testing.T) {
	d := NewDuration(90 * time.Second)
	text, err := d.MarshalText()
	require.NoError(t, err)

	var parsed Duration
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, d.Duration, parsed.Duration)
}
