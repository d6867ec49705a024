package bridge

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) by adapters that cannot locate a
// matching, free device.
var ErrNotFound = errors.New("bridge adapter not found")

// BitOrder selects the bit order of SPI transfers.
type BitOrder int

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "LSB"
	}
	return "MSB"
}

// Polarity is the SPI clock polarity expressed as leading/trailing edges.
type Polarity int

const (
	PolarityRisingFalling Polarity = iota
	PolarityFallingRising
)

// Phase is the SPI clock phase.
type Phase int

const (
	PhaseSampleSetup Phase = iota
	PhaseSetupSample
)

// Default transport parameters.
const (
	DefaultMode       = 0
	DefaultBitrateKHz = 8000
)

// SPIConfig describes the electrical configuration of the SPI transport.
type SPIConfig struct {
	Mode        int
	BitrateKHz  int
	BitOrder    BitOrder
	SSActiveLow bool
}

// DefaultSPIConfig returns mode 0, 8 MHz, MSB first, active-low SS.
func DefaultSPIConfig() SPIConfig {
	return SPIConfig{
		Mode:        DefaultMode,
		BitrateKHz:  DefaultBitrateKHz,
		BitOrder:    MSBFirst,
		SSActiveLow: true,
	}
}

// Validate checks that the mode and bitrate are usable.
func (c SPIConfig) Validate() error {
	if c.Mode < 0 || c.Mode > 3 {
		return fmt.Errorf("invalid SPI mode %d (want 0-3)", c.Mode)
	}
	if c.BitrateKHz <= 0 {
		return fmt.Errorf("invalid SPI bitrate %d kHz", c.BitrateKHz)
	}
	return nil
}

// Polarity returns the clock polarity implied by the mode.
func (c SPIConfig) Polarity() Polarity {
	if c.Mode == 2 || c.Mode == 3 {
		return PolarityFallingRising
	}
	return PolarityRisingFalling
}

// Phase returns the clock phase implied by the mode.
func (c SPIConfig) Phase() Phase {
	if c.Mode == 1 || c.Mode == 3 {
		return PhaseSetupSample
	}
	return PhaseSampleSetup
}

func (c SPIConfig) String() string {
	ss := "low"
	if !c.SSActiveLow {
		ss = "high"
	}
	return fmt.Sprintf("mode %d, %d kHz, %s first, SS active %s", c.Mode, c.BitrateKHz, c.BitOrder, ss)
}

// Bridge is a host adapter exposing a full-duplex SPI transport and a
// switchable target supply.
type Bridge interface {
	// Configure applies the SPI transport configuration.
	Configure(cfg SPIConfig) error

	// SetTargetPower switches the supply of the target device.
	SetTargetPower(on bool) error

	// Transfer clocks out and returns the bytes shifted in during the same
	// transaction. A well-behaved adapter returns len(out) bytes.
	Transfer(out []byte) ([]byte, error)

	// Close releases the adapter.
	Close() error
}
