package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request represents a packet sent to the bridge.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents a packet returned by the bridge.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a new request with calculated checksum.
func NewRequest(cmd byte, data []byte) *Request {
	r := &Request{
		Command: cmd,
		Data:    data,
	}
	r.Checksum = r.calculateChecksum()
	return r
}

// calculateChecksum XORs all data bytes into a 0xEF seed.
func (r *Request) calculateChecksum() uint32 {
	var checksum byte = 0xEF
	for _, b := range r.Data {
		checksum ^= b
	}
	return uint32(checksum)
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	// 0: direction (0x00 = request)
	// 1: command
	// 2-3: data size (little-endian)
	// 4-7: checksum (little-endian)
	// 8+: data
	packet := make([]byte, 8+len(r.Data))

	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[8:], r.Data)

	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
func DecodeResponse(data []byte) (*Response, error) {
	// Minimum response is 8 bytes header + 2 bytes status
	if len(data) < 10 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	resp := &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
	}

	dataSize := int(binary.LittleEndian.Uint16(data[2:4]))
	if dataSize > len(data)-8 {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", dataSize, len(data)-8)
	}
	if dataSize < 2 {
		return nil, fmt.Errorf("response without status: data size %d", dataSize)
	}

	// Last two bytes are status and error
	resp.Data = data[8 : 8+dataSize-2]
	resp.Status = data[8+dataSize-2]
	resp.Error = data[8+dataSize-1]

	return resp, nil
}

// EncodeResponse serializes a response. Bridge firmware emulators and
// tests use it; the host only decodes.
func EncodeResponse(resp *Response) []byte {
	size := len(resp.Data) + 2
	packet := make([]byte, 8+size)

	packet[0] = DirResponse
	packet[1] = resp.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(size))
	binary.LittleEndian.PutUint32(packet[4:8], resp.Value)
	copy(packet[8:], resp.Data)
	packet[8+size-2] = resp.Status
	packet[8+size-1] = resp.Error

	return packet
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// Err returns a *StatusError for failed responses and nil otherwise.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &StatusError{Command: r.Command, Status: r.Status, Code: r.Error}
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < 36; i++ {
		data[i] = 0x55
	}
	return data
}

// Bit order and slave select polarity values of SPI_CONFIGURE.
const (
	BitOrderMSB    = 0x00
	BitOrderLSB    = 0x01
	SSActiveLow    = 0x00
	SSActiveHigh   = 0x01
	configDataSize = 8
)

// SpiConfigureData creates the payload for SPI_CONFIGURE.
func SpiConfigureData(mode, bitOrder, ssPolarity byte, bitrateKHz uint32) []byte {
	data := make([]byte, configDataSize)
	data[0] = mode
	data[1] = bitOrder
	data[2] = ssPolarity
	data[3] = 0 // reserved
	binary.LittleEndian.PutUint32(data[4:8], bitrateKHz)
	return data
}

// TargetPowerData creates the payload for TARGET_POWER.
func TargetPowerData(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// Info is the identification returned by GET_INFO.
type Info struct {
	Serial  string
	Version uint32
}

// ParseInfo parses a GET_INFO response.
func ParseInfo(resp *Response) (*Info, error) {
	if resp.Command != CmdGetInfo {
		return nil, fmt.Errorf("unexpected response to GET_INFO: %s", CommandName(resp.Command))
	}
	serial := resp.Data
	for len(serial) > 0 && serial[len(serial)-1] == 0 {
		serial = serial[:len(serial)-1]
	}
	return &Info{Serial: string(serial), Version: resp.Value}, nil
}
