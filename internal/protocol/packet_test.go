package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestNewRequest_Checksum_EmptyData(t *testing.T) {
	req := NewRequest(CmdSync, nil)
	// Checksum with no data should be 0xEF (initial value)
	if req.Checksum != 0xEF {
		t.Errorf("NewRequest checksum with empty data = 0x%X, want 0xEF", req.Checksum)
	}
}

func TestNewRequest_Checksum_SingleByte(t *testing.T) {
	// Checksum = 0xEF ^ 0x01 = 0xEE
	req := NewRequest(CmdTargetPower, []byte{0x01})
	if req.Checksum != 0xEE {
		t.Errorf("NewRequest checksum = 0x%X, want 0xEE", req.Checksum)
	}
}

func TestNewRequest_Checksum_SyncData(t *testing.T) {
	syncData := SyncData()
	req := NewRequest(CmdSync, syncData)

	var expected byte = 0xEF
	for _, b := range syncData {
		expected ^= b
	}
	if req.Checksum != uint32(expected) {
		t.Errorf("NewRequest checksum for SyncData = 0x%X, want 0x%X", req.Checksum, expected)
	}
}

func TestRequest_Encode_Format(t *testing.T) {
	data := []byte{0x05, 0x00}
	req := NewRequest(CmdSpiTransfer, data)
	packet := req.Encode()

	if len(packet) != 10 {
		t.Fatalf("Encode() length = %d, want 10", len(packet))
	}
	if packet[0] != DirRequest {
		t.Errorf("Encode()[0] = 0x%02X, want 0x%02X", packet[0], DirRequest)
	}
	if packet[1] != CmdSpiTransfer {
		t.Errorf("Encode()[1] = 0x%02X, want 0x%02X", packet[1], CmdSpiTransfer)
	}
	if size := binary.LittleEndian.Uint16(packet[2:4]); size != 2 {
		t.Errorf("Encode() size = %d, want 2", size)
	}
	if sum := binary.LittleEndian.Uint32(packet[4:8]); sum != req.Checksum {
		t.Errorf("Encode() checksum = 0x%X, want 0x%X", sum, req.Checksum)
	}
	if !bytes.Equal(packet[8:], data) {
		t.Errorf("Encode() data = % X, want % X", packet[8:], data)
	}
}

func TestRequest_Encode_EmptyData(t *testing.T) {
	packet := NewRequest(CmdGetInfo, nil).Encode()
	if len(packet) != 8 {
		t.Errorf("Encode() length = %d, want 8", len(packet))
	}
}

func TestDecodeResponse_Valid(t *testing.T) {
	// dir, cmd, size=2, value, status, error
	data := []byte{0x01, CmdSync, 0x02, 0x00, 0x78, 0x56, 0x34, 0x12, 0x00, 0x00}
	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Command != CmdSync {
		t.Errorf("Command = 0x%02X, want 0x%02X", resp.Command, CmdSync)
	}
	if resp.Value != 0x12345678 {
		t.Errorf("Value = 0x%X, want 0x12345678", resp.Value)
	}
	if len(resp.Data) != 0 {
		t.Errorf("Data = % X, want empty", resp.Data)
	}
	if !resp.IsSuccess() {
		t.Error("IsSuccess() = false, want true")
	}
}

func TestDecodeResponse_WithData(t *testing.T) {
	data := []byte{0x01, CmdSpiTransfer, 0x05, 0x00, 0x03, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0x00, 0x00}
	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("Data = % X, want AA BB CC", resp.Data)
	}
	if resp.Value != 3 {
		t.Errorf("Value = %d, want 3", resp.Value)
	}
}

func TestDecodeResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x01, 0x08, 0x02}},
		{"request direction", []byte{0x00, 0x08, 0x02, 0x00, 0, 0, 0, 0, 0, 0}},
		{"size beyond packet", []byte{0x01, 0x08, 0x10, 0x00, 0, 0, 0, 0, 0, 0}},
		{"no status", []byte{0x01, 0x08, 0x01, 0x00, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.data); err == nil {
				t.Error("DecodeResponse() should fail")
			}
		})
	}
}

func TestEncodeResponse_RoundTrip(t *testing.T) {
	in := &Response{Command: CmdGetInfo, Value: 7, Data: []byte("SN42"), Status: 1, Error: ErrPowerFault}
	out, err := DecodeResponse(EncodeResponse(in))
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out.Command != in.Command || out.Value != in.Value || !bytes.Equal(out.Data, in.Data) ||
		out.Status != in.Status || out.Error != in.Error {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestResponse_Err(t *testing.T) {
	tests := []struct {
		status, code byte
		fail         bool
	}{
		{0, 0, false},
		{1, ErrBusFault, true},
		{0, ErrInvalidCRC, true},
		{1, 0, true},
	}
	for _, tt := range tests {
		resp := &Response{Command: CmdSpiTransfer, Status: tt.status, Error: tt.code}
		err := resp.Err()
		if (err != nil) != tt.fail {
			t.Errorf("Err() status=%d error=%d = %v, want failure %v", tt.status, tt.code, err, tt.fail)
			continue
		}
		var se *StatusError
		if tt.fail && (!errors.As(err, &se) || se.Code != tt.code) {
			t.Errorf("Err() = %v, want *StatusError with code 0x%02X", err, tt.code)
		}
	}
}
