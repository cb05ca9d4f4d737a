// Package serial opens the USB/UART link to a GRBL-style laser controller.
package serial

import (
	"io"

	"kerf/config"
)

// Port represents a serial port interface
// Implementations:
// - Native serial (using github.com/tarm/serial)
// - net.Pipe or any io.ReadWriteCloser in tests
type Port interface {
	io.ReadWriteCloser

	// Flush discards data buffered in the OS driver
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate (GRBL 1.1 defaults to 115200)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for GRBL controllers
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

// FromSettings builds a port configuration from the serial section of the
// application config
func FromSettings(s config.SerialConfig) *Config {
	cfg := DefaultConfig(s.Device)
	if s.Baud > 0 {
		cfg.Baud = s.Baud
	}
	if s.ReadTimeoutMs > 0 {
		cfg.ReadTimeout = s.ReadTimeoutMs
	}
	return cfg
}
