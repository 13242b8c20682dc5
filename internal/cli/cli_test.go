package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"farm-exporter/internal/config"
	"farm-exporter/internal/source"
	"farm-exporter/internal/watchdog"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("boom"), ExitFailure},
		{fmt.Errorf("%w: no sources", config.ErrInvalid), ExitConfigInvalid},
		{fmt.Errorf("%w: ssl dir", source.ErrNotConfigured), ExitConfigInvalid},
		{fmt.Errorf("%w: have 1.8", source.ErrVersionUnsupported), ExitVersionUnsupported},
		{errors.Join(fmt.Errorf("stop: %w", watchdog.ErrThresholdExceeded), watchdog.ErrShutdownTimeout), ExitThresholdExceeded},
		{watchdog.ErrShutdownTimeout, ExitFailure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExitCode(tc.err), "%v", tc.err)
	}
}
