package image

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcinbor85/gohex"

	"github.com/bigbag/norflash/internal/nor"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Raw(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xFF}
	path := writeFile(t, "fw.bin", data)

	img, err := Load(path, 16)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(img.Data, data) {
		t.Errorf("Data = % X, want % X", img.Data, data)
	}
	if img.HasAddr || img.Addr != 0 {
		t.Errorf("raw image has address 0x%X (HasAddr %v)", img.Addr, img.HasAddr)
	}
	if img.CRC != CRC32(data) {
		t.Errorf("CRC = %08X, want %08X", img.CRC, CRC32(data))
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bin"), 16)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoad_TooLarge(t *testing.T) {
	path := writeFile(t, "big.bin", make([]byte, 17))

	_, err := Load(path, 16)
	var se *nor.SizeExceededError
	if !errors.As(err, &se) {
		t.Fatalf("Load() error = %v, want *nor.SizeExceededError", err)
	}
	if se.Size != 17 || se.Capacity != 16 {
		t.Errorf("error = %+v, want Size 17 Capacity 16", se)
	}
}

func TestLoad_HexWithGap(t *testing.T) {
	mem := gohex.NewMemory()
	mem.AddBinary(0x1000, []byte{0xAA, 0xBB})
	mem.AddBinary(0x1010, []byte{0xCC})
	var buf bytes.Buffer
	if err := mem.DumpIntelHex(&buf, 16); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "fw.hex", buf.Bytes())

	img, err := Load(path, nor.DefaultGeometry().Capacity)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !img.HasAddr || img.Addr != 0x1000 {
		t.Errorf("Addr = 0x%X (HasAddr %v), want 0x1000", img.Addr, img.HasAddr)
	}
	if len(img.Data) != 0x11 {
		t.Fatalf("len(Data) = %d, want 17", len(img.Data))
	}
	if img.Data[0] != 0xAA || img.Data[1] != 0xBB || img.Data[0x10] != 0xCC {
		t.Errorf("Data = % X", img.Data)
	}
	for i := 2; i < 0x10; i++ {
		if img.Data[i] != Padding {
			t.Errorf("gap byte %d = 0x%02X, want 0x%02X", i, img.Data[i], Padding)
		}
	}
}

func TestLoad_HexAddressNotChecked(t *testing.T) {
	mem := gohex.NewMemory()
	mem.AddBinary(0x08000000, []byte{0x00, 0x01})
	var buf bytes.Buffer
	mem.DumpIntelHex(&buf, 16)
	path := writeFile(t, "fw.ihex", buf.Bytes())

	img, err := Load(path, 16)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Addr != 0x08000000 || len(img.Data) != 2 {
		t.Errorf("Load() = 0x%X, %d bytes, want 0x08000000, 2 bytes", img.Addr, len(img.Data))
	}
}

func TestLoad_HexTooLarge(t *testing.T) {
	mem := gohex.NewMemory()
	mem.AddBinary(0x00, make([]byte, 17))
	var buf bytes.Buffer
	mem.DumpIntelHex(&buf, 16)
	path := writeFile(t, "fw.hex", buf.Bytes())

	var se *nor.SizeExceededError
	if _, err := Load(path, 16); !errors.As(err, &se) {
		t.Errorf("Load() error = %v, want *nor.SizeExceededError", err)
	}
}

func TestLoad_BadHex(t *testing.T) {
	path := writeFile(t, "bad.hex", []byte(":zz\n"))
	if _, err := Load(path, 16); err == nil {
		t.Error("Load() of malformed Intel HEX should fail")
	}
}

func TestSave_HexRoundTrip(t *testing.T) {
	data := []byte{0x10, 0x20, 0x30}
	path := filepath.Join(t.TempDir(), "dump.hex")
	if err := Save(path, 0x2000, data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	img, err := Load(path, nor.DefaultGeometry().Capacity)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Addr != 0x2000 || !bytes.Equal(img.Data, data) {
		t.Errorf("Load() = 0x%X % X, want 0x2000 % X", img.Addr, img.Data, data)
	}
}

func TestSave_Raw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.bin")
	if err := Save(path, 0x2000, []byte{0x01}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("file = % X, want 01", got)
	}
}

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	if got := SnapshotName(ts); got != "20240309_070501.bin" {
		t.Errorf("SnapshotName() = %q, want 20240309_070501.bin", got)
	}
}

func TestCRC32_DetectsChange(t *testing.T) {
	a := []byte("123456789")
	b := []byte("123456788")
	if CRC32(a) != CRC32(a) {
		t.Error("CRC32 not deterministic")
	}
	if CRC32(a) == CRC32(b) {
		t.Error("CRC32 did not change with the data")
	}
}

func TestIsHex(t *testing.T) {
	for path, want := range map[string]bool{"a.hex": true, "A.IHEX": true, "a.bin": false, "hex": false} {
		if got := IsHex(path); got != want {
			t.Errorf("IsHex(%q) = %v, want %v", path, got, want)
		}
	}
}
