package protocol

import "fmt"

// SPI bridge firmware commands
const (
	CmdSync         = 0x08
	CmdSpiConfigure = 0x0B
	CmdTargetPower  = 0x0D
	CmdSpiTransfer  = 0x11
	CmdGetInfo      = 0x14
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Link parameters
const (
	DefaultBaudRate = 921600
	// MaxPayload is the largest data field the 16-bit size can carry.
	MaxPayload = 0xFFFF
	// MaxTransfer leaves room for the 4-byte count echoed in responses.
	MaxTransfer = 0x8000 + 0x100
)

// CommandName returns a human-readable name for a command byte.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdSync:
		return "SYNC"
	case CmdSpiConfigure:
		return "SPI_CONFIGURE"
	case CmdTargetPower:
		return "TARGET_POWER"
	case CmdSpiTransfer:
		return "SPI_TRANSFER"
	case CmdGetInfo:
		return "GET_INFO"
	default:
		return fmt.Sprintf("CMD_0x%02X", cmd)
	}
}

// Error codes reported by the bridge firmware
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrBusFault        = 0x08
	ErrNotConfigured   = 0x09
	ErrTransferLength  = 0x0A
	ErrPowerFault      = 0x0B
	ErrUnsupportedMode = 0x0C
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrBusFault:
		return "SPI bus fault"
	case ErrNotConfigured:
		return "SPI not configured"
	case ErrTransferLength:
		return "transfer length error"
	case ErrPowerFault:
		return "target power fault"
	case ErrUnsupportedMode:
		return "unsupported SPI mode"
	default:
		return "unknown error"
	}
}

// StatusError carries a failure status returned by the bridge.
type StatusError struct {
	Command byte
	Status  byte
	Code    byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: status=0x%02X error=0x%02X (%s)",
		CommandName(e.Command), e.Status, e.Code, ErrorMessage(e.Code))
}
