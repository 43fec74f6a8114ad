// Package decode turns raw log bytes into text incrementally. The first
// successful decode locks an encoding for the rest of the epoch, and partial
// multi-byte sequences at the end of a read are carried into the next one.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncodings is the probe order used when none is configured.
var DefaultEncodings = []string{"utf-8", "utf-16", "windows-1252"}

const (
	nameUTF8    = "utf-8"
	nameUTF16LE = "utf-16le"
	nameUTF16BE = "utf-16be"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

type candidate struct {
	name string
	enc  encoding.Encoding
	// bomOnly candidates are only chosen when the stream starts with their BOM.
	bomOnly bool
}

func resolve(name string) (candidate, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return candidate{name: nameUTF8, enc: unicode.UTF8}, nil
	case "utf-16", "utf16", "utf-16le", "utf-16be":
		return candidate{name: "utf-16", bomOnly: true}, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return candidate{}, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	return candidate{name: canonical, enc: enc}, nil
}

func lookup(name string) (candidate, error) {
	switch name {
	case nameUTF16LE:
		return candidate{name: name, enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, nil
	case nameUTF16BE:
		return candidate{name: name, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, nil
	}
	return resolve(name)
}

// Decoder is the stateful incremental decoder for one sub-source.
// It is not safe for concurrent use.
type Decoder struct {
	candidates []candidate
	locked     *candidate
	dec        transform.Transformer
	pending    []byte
	rawOffset  int64
	charOffset int64
}

// New returns a Decoder probing the named encodings in order.
// With no names, DefaultEncodings is used.
func New(names ...string) (*Decoder, error) {
	if len(names) == 0 {
		names = DefaultEncodings
	}
	d := &Decoder{}
	for _, n := range names {
		c, err := resolve(n)
		if err != nil {
			return nil, err
		}
		d.candidates = append(d.candidates, c)
	}
	return d, nil
}

// Encoding returns the locked encoding name, or "" before the first lock.
func (d *Decoder) Encoding() string {
	if d.locked == nil {
		return ""
	}
	return d.locked.name
}

// RawOffset is the number of source bytes fully consumed in this epoch.
// Held-back partial sequences are not counted.
func (d *Decoder) RawOffset() int64 { return d.rawOffset }

// CharOffset is the number of characters emitted in this epoch.
func (d *Decoder) CharOffset() int64 { return d.charOffset }

// Reset starts a new epoch: offsets go to zero, pending bytes are dropped and
// the encoding is probed again on the next call.
func (d *Decoder) Reset() {
	d.locked = nil
	d.dec = nil
	d.pending = nil
	d.rawOffset = 0
	d.charOffset = 0
}

// Lock forces an encoding without probing.
func (d *Decoder) Lock(name string) error {
	c, err := lookup(name)
	if err != nil {
		return err
	}
	if c.bomOnly {
		c, _ = lookup(nameUTF16LE)
	}
	d.lock(c)
	return nil
}

func (d *Decoder) lock(c candidate) {
	d.locked = &c
	d.dec = c.enc.NewDecoder()
}

// Decode consumes raw and returns the text that could be decoded completely.
// Undecodable bytes become U+FFFD.
func (d *Decoder) Decode(raw []byte) string {
	data := raw
	if len(d.pending) > 0 {
		data = append(append([]byte(nil), d.pending...), raw...)
		d.pending = nil
	}
	if len(data) == 0 {
		return ""
	}

	if d.locked == nil {
		var ok bool
		if data, ok = d.probe(data); !ok {
			return ""
		}
	}
	return d.run(data, false)
}

// Flush decodes any held-back bytes as if the stream ended.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	data := d.pending
	d.pending = nil
	if d.locked == nil {
		d.lock(d.fallback())
	}
	return d.run(data, true)
}

// probe locks an encoding for data, returning data minus any BOM. It reports
// false when the bytes seen so far are not enough to decide; they are kept
// as pending.
func (d *Decoder) probe(data []byte) ([]byte, bool) {
	if d.rawOffset == 0 {
		for _, b := range []struct {
			bom  []byte
			name string
		}{{bomUTF8, nameUTF8}, {bomUTF16LE, nameUTF16LE}, {bomUTF16BE, nameUTF16BE}} {
			if b.name != nameUTF8 && !d.allowsUTF16() {
				continue
			}
			if bytes.HasPrefix(data, b.bom) {
				c, _ := lookup(b.name)
				d.lock(c)
				d.rawOffset += int64(len(b.bom))
				return data[len(b.bom):], true
			}
			if len(data) < len(b.bom) && bytes.HasPrefix(b.bom, data) {
				d.pending = data
				return nil, false
			}
		}
	}

	tail := incompleteTail(data)
	complete := data[:len(data)-tail]
	if len(complete) == 0 {
		d.pending = data
		return nil, false
	}
	for _, c := range d.candidates {
		if c.bomOnly {
			continue
		}
		if decodesCleanly(c, complete) {
			d.lock(c)
			return data, true
		}
	}
	d.lock(d.fallback())
	return data, true
}

// fallback is the encoding used when no candidate decodes cleanly.
func (d *Decoder) fallback() candidate {
	for _, c := range d.candidates {
		if !c.bomOnly {
			return c
		}
	}
	c, _ := lookup(nameUTF16LE)
	return c
}

func (d *Decoder) allowsUTF16() bool {
	for _, c := range d.candidates {
		if c.bomOnly {
			return true
		}
	}
	return false
}

func decodesCleanly(c candidate, b []byte) bool {
	if c.name == nameUTF8 {
		return utf8.Valid(b)
	}
	out, _, err := transform.Bytes(c.enc.NewDecoder(), b)
	if err != nil {
		return false
	}
	return !bytes.ContainsRune(out, utf8.RuneError)
}

func (d *Decoder) run(src []byte, atEOF bool) string {
	var out strings.Builder
	dst := make([]byte, 2*len(src)+utf8.UTFMax)
	for len(src) > 0 {
		nDst, nSrc, err := d.dec.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		d.rawOffset += int64(nSrc)
		src = src[nSrc:]
		switch {
		case err == nil:
		case errors.Is(err, transform.ErrShortDst):
			if nSrc == 0 && nDst == 0 {
				dst = make([]byte, 2*len(dst))
			}
			continue
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			src = nil
		default:
			out.WriteRune(utf8.RuneError)
			d.rawOffset++
			src = src[1:]
			d.dec.Reset()
		}
	}
	text := out.String()
	d.charOffset += int64(utf8.RuneCountInString(text))
	return text
}

// incompleteTail returns how many trailing bytes of b form the start of a
// UTF-8 sequence that has not been completed yet.
func incompleteTail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return 0
		}
		if !utf8.RuneStart(c) {
			continue
		}
		var need int
		switch {
		case c&0xE0 == 0xC0:
			need = 2
		case c&0xF0 == 0xE0:
			need = 3
		case c&0xF8 == 0xF0:
			need = 4
		default:
			return 0
		}
		if need > i {
			return i
		}
		return 0
	}
	return 0
}

// Decode is the stateless form: it decodes raw completely with the given
// locked encoding, or probes when locked is empty, and returns the text and
// the encoding used.
func Decode(raw []byte, locked string) (string, string, error) {
	d, err := New()
	if err != nil {
		return "", "", err
	}
	if locked != "" {
		if err := d.Lock(locked); err != nil {
			return "", "", err
		}
	}
	text := d.Decode(raw)
	text += d.Flush()
	return text, d.Encoding(), nil
}
