package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcinbor85/gohex"

	"github.com/bigbag/norflash/internal/image"
	"github.com/bigbag/norflash/internal/nor"
)

func writeHex(t *testing.T, addr uint32, data []byte) string {
	t.Helper()
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := mem.DumpIntelHex(&buf, 16); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "fw.hex")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// An unusable image is rejected before the adapter flag is even looked at.
func TestRunProgram_RejectsImageBeforeOpening(t *testing.T) {
	adapterFlag = "no-such-adapter"
	defer func() { adapterFlag = "serial" }()

	big := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(big, make([]byte, nor.DefaultGeometry().Capacity+1), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(t.TempDir(), "missing.bin")

	tests := []struct {
		name string
		run  func() error
		want func(error) bool
	}{
		{"program too large", func() error { return runProgram(newProgramCmd(), []string{big}) }, isSizeExceeded},
		{"verify too large", func() error { return runVerify(newVerifyCmd(), []string{big}) }, isSizeExceeded},
		{"program missing", func() error { return runProgram(newProgramCmd(), []string{missing}) }, isNotFound},
		{"verify missing", func() error { return runVerify(newVerifyCmd(), []string{missing}) }, isNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !tt.want(err) {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestRunProgram_RejectsAddressPastEnd(t *testing.T) {
	adapterFlag = "no-such-adapter"
	defer func() { adapterFlag = "serial" }()

	path := writeHex(t, 0x7FFFF0, make([]byte, 32))
	if err := runProgram(newProgramCmd(), []string{path}); !isSizeExceeded(err) {
		t.Errorf("runProgram() error = %v, want *nor.SizeExceededError", err)
	}
}

func TestLoadImage_AddrFlagOverridesHexBase(t *testing.T) {
	path := writeHex(t, 0x08000000, []byte{0x01, 0x02, 0x03})

	cmd := newProgramCmd()
	if _, _, err := loadImage(cmd, path); !isSizeExceeded(err) {
		t.Errorf("loadImage() at the HEX base error = %v, want *nor.SizeExceededError", err)
	}

	if err := cmd.Flags().Set("addr", "0x1000"); err != nil {
		t.Fatal(err)
	}
	img, addr, err := loadImage(cmd, path)
	if err != nil {
		t.Fatalf("loadImage() error = %v", err)
	}
	if addr != 0x1000 || len(img.Data) != 3 {
		t.Errorf("loadImage() = 0x%X, %d bytes, want 0x1000, 3 bytes", addr, len(img.Data))
	}
}

func TestLoadImage_HexBase(t *testing.T) {
	path := writeHex(t, 0x020000, []byte{0xAA})

	_, addr, err := loadImage(newVerifyCmd(), path)
	if err != nil {
		t.Fatalf("loadImage() error = %v", err)
	}
	if addr != 0x020000 {
		t.Errorf("addr = 0x%X, want 0x020000", addr)
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"0x10000", 0x10000, false},
		{"zz", 0, true},
		{"0x100000000", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAddr(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseAddr(%q) = 0x%X, %v, want 0x%X, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func isSizeExceeded(err error) bool {
	var se *nor.SizeExceededError
	return errors.As(err, &se)
}

func isNotFound(err error) bool {
	return errors.Is(err, image.ErrNotFound)
}
