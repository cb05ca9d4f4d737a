package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kerf/config"
)

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.SerialConfig{Device: "/dev/ttyUSB0"})
	assert.Equal(t, &Config{Device: "/dev/ttyUSB0", Baud: 115200, ReadTimeout: 100}, cfg)

	cfg = FromSettings(config.SerialConfig{Device: "COM3", Baud: 250000, ReadTimeoutMs: 20})
	assert.Equal(t, 250000, cfg.Baud)
	assert.Equal(t, 20, cfg.ReadTimeout)
}

func TestOpenRejectsMissingDevice(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)

	_, err = Open(DefaultConfig(""))
	assert.EqualError(t, err, "no serial device configured")
}
