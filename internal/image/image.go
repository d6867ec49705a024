// Package image loads the binary images written to flash and stores
// read-back snapshots.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marcinbor85/gohex"
	"zappem.net/pub/debug/xcrc32"

	"github.com/bigbag/norflash/internal/nor"
)

// ErrNotFound is returned when the image file does not exist.
var ErrNotFound = errors.New("image file not found")

// Padding fills gaps between Intel HEX segments.
const Padding = 0xFF

// Image is a loaded flash image.
type Image struct {
	Path string
	// Addr is the load address found in the file. HasAddr is false for raw
	// binaries, which carry no address.
	Addr    uint32
	HasAddr bool
	Data    []byte
	CRC     uint32
}

func (img *Image) String() string {
	s := fmt.Sprintf("%s: %d bytes, crc32 %08X", filepath.Base(img.Path), len(img.Data), img.CRC)
	if img.HasAddr {
		s += fmt.Sprintf(", at 0x%06X", img.Addr)
	}
	return s
}

// Load reads path as Intel HEX (.hex, .ihex) or raw binary and checks that
// the image data fits in capacity bytes. Where the image lands is the
// caller's decision, so the load address is not part of the check.
func Load(path string, capacity int) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img := &Image{Path: path, Data: raw}
	if IsHex(path) {
		img.Addr, img.Data, err = parseHex(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		img.HasAddr = true
	}

	if len(img.Data) > capacity {
		return nil, &nor.SizeExceededError{Size: len(img.Data), Capacity: capacity}
	}
	img.CRC = CRC32(img.Data)
	return img, nil
}

// IsHex reports whether path names an Intel HEX file.
func IsHex(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return true
	}
	return false
}

// parseHex flattens the segments of an Intel HEX file into one buffer
// starting at the lowest segment address.
func parseHex(raw []byte) (uint32, []byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return 0, nil, fmt.Errorf("failed to parse Intel HEX: %w", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return 0, nil, errors.New("Intel HEX file has no data")
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })

	base := segs[0].Address
	last := segs[len(segs)-1]
	end := uint64(last.Address) + uint64(len(last.Data))
	if end-uint64(base) > nor.MaxAddress+1 {
		return 0, nil, fmt.Errorf("Intel HEX spans 0x%08X-0x%08X, beyond 24-bit addressing", base, end)
	}

	data := make([]byte, end-uint64(base))
	for i := range data {
		data[i] = Padding
	}
	for _, seg := range segs {
		copy(data[seg.Address-base:], seg.Data)
	}
	return base, data, nil
}

// CRC32 returns the checksum printed for images and read-backs.
func CRC32(data []byte) uint32 {
	_, crc := xcrc32.NewCRC32(data)
	return crc
}

// SnapshotName returns the default file name of a read-back taken at t.
func SnapshotName(t time.Time) string {
	return t.Format("20060102_150405") + ".bin"
}

// Save writes data to path as a raw binary. A .hex or .ihex path gets an
// Intel HEX file with records starting at addr.
func Save(path string, addr uint32, data []byte) error {
	if !IsHex(path) {
		return os.WriteFile(path, data, 0644)
	}

	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return err
	}
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := mem.DumpIntelHex(w, 16); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
