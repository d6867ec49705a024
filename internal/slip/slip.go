// Package slip frames bridge packets on the serial line (RFC 1055).
package slip

import (
	"bufio"
	"errors"
	"io"
)

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// ErrBadEscape is returned for an escape byte followed by anything other
// than EscEnd or EscEsc.
var ErrBadEscape = errors.New("slip: invalid escape sequence")

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/16+2)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	return append(result, End)
}

// Decode unescapes one frame. Leading and trailing END bytes are ignored.
func Decode(frame []byte) ([]byte, error) {
	d := decoder{synced: true}
	for _, b := range frame {
		if err := d.feed(b); err != nil {
			return nil, err
		}
	}
	return d.buf, nil
}

// decoder accumulates bytes of one frame.
type decoder struct {
	buf     []byte
	synced  bool
	escaped bool
	done    bool
}

// feed appends one raw byte. done is set when END closes a non-empty frame.
func (d *decoder) feed(b byte) error {
	if !d.synced {
		d.synced = b == End
		return nil
	}
	if d.escaped {
		d.escaped = false
		switch b {
		case EscEnd:
			d.buf = append(d.buf, End)
		case EscEsc:
			d.buf = append(d.buf, Esc)
		default:
			return ErrBadEscape
		}
		return nil
	}
	switch b {
	case End:
		// empty frames separate packets
		d.done = len(d.buf) > 0
	case Esc:
		d.escaped = true
	default:
		d.buf = append(d.buf, b)
	}
	return nil
}

// reset drops the current frame. A frame that ended normally leaves the
// decoder in sync; a broken one waits for the next END.
func (d *decoder) reset(synced bool) {
	d.buf = nil
	d.synced = synced
	d.escaped = false
	d.done = false
}

// Reader extracts frames from a byte stream.
type Reader struct {
	r   *bufio.Reader
	dec decoder
}

// NewReader returns a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame returns the payload of the next complete frame. Bytes before
// the first END are line noise and are discarded with the frame they end.
// A malformed escape drops the frame being assembled and returns
// ErrBadEscape; the next call resynchronizes on the following END.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if err := fr.dec.feed(b); err != nil {
			fr.dec.reset(false)
			return nil, err
		}
		if fr.dec.done {
			frame := fr.dec.buf
			fr.dec.reset(true)
			return frame, nil
		}
	}
}

// Reset discards buffered bytes and any partial frame.
func (fr *Reader) Reset(r io.Reader) {
	fr.r.Reset(r)
	fr.dec.reset(false)
}

// Writer frames packets onto a byte stream.
type Writer struct {
	w io.Writer
}

// NewWriter returns a frame writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes packet and writes it in one call.
func (fw *Writer) WriteFrame(packet []byte) error {
	_, err := fw.w.Write(Encode(packet))
	return err
}
