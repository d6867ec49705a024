package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandName_Known(t *testing.T) {
	tests := []struct {
		cmd  byte
		want string
	}{
		{CmdSync, "SYNC"},
		{CmdSpiConfigure, "SPI_CONFIGURE"},
		{CmdTargetPower, "TARGET_POWER"},
		{CmdSpiTransfer, "SPI_TRANSFER"},
		{CmdGetInfo, "GET_INFO"},
	}
	for _, tt := range tests {
		if got := CommandName(tt.cmd); got != tt.want {
			t.Errorf("CommandName(0x%02X) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestCommandName_Unknown(t *testing.T) {
	if got := CommandName(0x7E); got != "CMD_0x7E" {
		t.Errorf("CommandName(0x7E) = %q, want CMD_0x7E", got)
	}
}

func TestErrorMessage_AllCodes(t *testing.T) {
	tests := []struct {
		code byte
		want string
	}{
		{ErrInvalidMessage, "invalid message"},
		{ErrFailedToAct, "failed to act"},
		{ErrInvalidCRC, "invalid CRC"},
		{ErrBusFault, "SPI bus fault"},
		{ErrNotConfigured, "SPI not configured"},
		{ErrTransferLength, "transfer length error"},
		{ErrPowerFault, "target power fault"},
		{ErrUnsupportedMode, "unsupported SPI mode"},
	}
	for _, tt := range tests {
		if got := ErrorMessage(tt.code); got != tt.want {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorMessage_Unknown(t *testing.T) {
	for _, code := range []byte{0x00, 0x01, 0xFF} {
		if got := ErrorMessage(code); got != "unknown error" {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", code, got, "unknown error")
		}
	}
}

func TestStatusError(t *testing.T) {
	var err error = &StatusError{Command: CmdSpiTransfer, Status: 0x01, Code: ErrBusFault}

	msg := err.Error()
	for _, part := range []string{"SPI_TRANSFER", "0x01", "0x08", "SPI bus fault"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Code != ErrBusFault {
		t.Errorf("errors.As() did not recover the status error")
	}
}

func TestSyncData(t *testing.T) {
	data := SyncData()
	if len(data) != 36 {
		t.Fatalf("SyncData() length = %d, want 36", len(data))
	}
	header := []byte{0x07, 0x07, 0x12, 0x20}
	for i, b := range header {
		if data[i] != b {
			t.Errorf("SyncData()[%d] = 0x%02X, want 0x%02X", i, data[i], b)
		}
	}
	for i := 4; i < 36; i++ {
		if data[i] != 0x55 {
			t.Errorf("SyncData()[%d] = 0x%02X, want 0x55", i, data[i])
		}
	}
}

func TestSpiConfigureData(t *testing.T) {
	data := SpiConfigureData(3, BitOrderLSB, SSActiveHigh, 8000)
	want := []byte{0x03, 0x01, 0x01, 0x00, 0x40, 0x1F, 0x00, 0x00}
	if len(data) != len(want) {
		t.Fatalf("SpiConfigureData() length = %d, want %d", len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("SpiConfigureData()[%d] = 0x%02X, want 0x%02X", i, data[i], want[i])
		}
	}
}

func TestTargetPowerData(t *testing.T) {
	if got := TargetPowerData(true); len(got) != 1 || got[0] != 0x01 {
		t.Errorf("TargetPowerData(true) = %v, want [1]", got)
	}
	if got := TargetPowerData(false); len(got) != 1 || got[0] != 0x00 {
		t.Errorf("TargetPowerData(false) = %v, want [0]", got)
	}
}

func TestParseInfo(t *testing.T) {
	resp := &Response{Command: CmdGetInfo, Value: 0x0102, Data: []byte("1000123\x00\x00")}
	info, err := ParseInfo(resp)
	if err != nil {
		t.Fatalf("ParseInfo() error = %v", err)
	}
	if info.Serial != "1000123" {
		t.Errorf("ParseInfo() Serial = %q, want %q", info.Serial, "1000123")
	}
	if info.Version != 0x0102 {
		t.Errorf("ParseInfo() Version = 0x%X, want 0x102", info.Version)
	}
}

func TestParseInfo_WrongCommand(t *testing.T) {
	if _, err := ParseInfo(&Response{Command: CmdSync}); err == nil {
		t.Error("ParseInfo() with SYNC response should fail")
	}
}

func TestConstants(t *testing.T) {
	if DirRequest != 0x00 || DirResponse != 0x01 {
		t.Errorf("direction constants = 0x%02X/0x%02X, want 0x00/0x01", DirRequest, DirResponse)
	}
	if MaxTransfer < 0x8000+5 {
		t.Errorf("MaxTransfer = %d, too small for a full read chunk", MaxTransfer)
	}
}
