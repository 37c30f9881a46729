package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  time.Duration
		err   error
	}{
		{"PT10S", 10 * time.Second, nil},
		{"P1DT2H", 26 * time.Hour, nil},
		{"PT1.5S", 1500 * time.Millisecond, nil},
		{"PT90M", 90 * time.Minute, nil},
		{"P2D", 48 * time.Hour, nil},
		{"PT", 0, model.ErrISOFormat},
		{"P1M", 0, model.ErrISOFormat},
		{"PT1S2M", 0, model.ErrISOFormat},
		{"PT1.5M", 0, model.ErrISOFormat},
		{"10s", 0, model.ErrISOFormat},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			d, err := model.ParseISODuration(tc.given)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}
}
