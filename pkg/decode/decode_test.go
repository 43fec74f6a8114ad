package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func TestDecodeLocksUTF8(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	assert.Equal(t, "", d.Encoding())
	assert.Equal(t, "héllo\n", d.Decode([]byte("héllo\n")))
	assert.Equal(t, "utf-8", d.Encoding())
	assert.EqualValues(t, len("héllo\n"), d.RawOffset())
	assert.EqualValues(t, 6, d.CharOffset())
}

func TestDecodeSplitAtEveryBoundary(t *testing.T) {
	input := []byte("größe → 日本語 🚀 done\n")
	whole, err := New()
	require.NoError(t, err)
	want := whole.Decode(input)

	for i := 0; i <= len(input); i++ {
		d, err := New()
		require.NoError(t, err)
		got := d.Decode(input[:i]) + d.Decode(input[i:])
		assert.Equal(t, want, got, "split at %d", i)
		assert.EqualValues(t, len(input), d.RawOffset(), "split at %d", i)
	}
}

func TestDecodeHoldsPartialSequence(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	rocket := []byte("🚀")
	assert.Equal(t, "", d.Decode(rocket[:2]))
	assert.Equal(t, "", d.Encoding(), "nothing complete yet, no lock")
	assert.EqualValues(t, 0, d.RawOffset())

	assert.Equal(t, "🚀", d.Decode(rocket[2:]))
	assert.Equal(t, "utf-8", d.Encoding())
	assert.EqualValues(t, 4, d.RawOffset())
}

func TestDecodeFallsBackToWindows1252(t *testing.T) {
	raw, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte("café €5\n"))
	require.NoError(t, err)

	d, err := New()
	require.NoError(t, err)
	assert.Equal(t, "café €5\n", d.Decode(raw))
	assert.Equal(t, "windows-1252", d.Encoding())
}

func TestDecodeLockFollowsFirstChunk(t *testing.T) {
	raw := []byte("abc\ncaf\xe9\n")

	whole, err := New()
	require.NoError(t, err)
	assert.Equal(t, "abc\ncafé\n", whole.Decode(raw))
	assert.Equal(t, "windows-1252", whole.Encoding())

	split, err := New()
	require.NoError(t, err)
	got := split.Decode(raw[:4])
	require.Equal(t, "utf-8", split.Encoding())
	got += split.Decode(raw[4:])
	assert.Equal(t, "abc\ncaf\uFFFD\n", got)
	assert.Equal(t, "utf-8", split.Encoding())
}

func TestDecodeUTF16WithBOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, _, err := transform.Bytes(enc, []byte("line one\nzwei\n"))
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFE}, raw[:2])

	d, err := New()
	require.NoError(t, err)
	var got string
	for i := 0; i < len(raw); i += 3 {
		end := min(i+3, len(raw))
		got += d.Decode(raw[i:end])
	}
	assert.Equal(t, "line one\nzwei\n", got)
	assert.Equal(t, "utf-16le", d.Encoding())
	assert.EqualValues(t, len(raw), d.RawOffset())
}

func TestDecodeStripsUTF8BOM(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	assert.Equal(t, "", d.Decode([]byte{0xEF, 0xBB}))
	assert.Equal(t, "abc", d.Decode([]byte{0xBF, 'a', 'b', 'c'}))
	assert.Equal(t, "utf-8", d.Encoding())
}

func TestDecodeReplacesInvalidBytesAfterLock(t *testing.T) {
	d, err := New("utf-8")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", d.Decode([]byte("ok\n")))
	assert.Equal(t, "a�b", d.Decode([]byte{'a', 0xFF, 'b'}))
}

func TestDecodeResetDropsLock(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	d.Decode([]byte("abc"))
	require.Equal(t, "utf-8", d.Encoding())

	d.Reset()
	assert.Equal(t, "", d.Encoding())
	assert.EqualValues(t, 0, d.RawOffset())
	assert.EqualValues(t, 0, d.CharOffset())
}

func TestDecodeFlush(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	assert.Equal(t, "x", d.Decode([]byte{'x', 0xE6}))
	assert.Equal(t, "�", d.Flush())
}

func TestStatelessDecode(t *testing.T) {
	text, enc, err := Decode([]byte("plain"), "")
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
	assert.Equal(t, "utf-8", enc)

	text, enc, err = Decode([]byte{0xE9}, "windows-1252")
	require.NoError(t, err)
	assert.Equal(t, "é", text)
	assert.Equal(t, "windows-1252", enc)
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New("klingon-8")
	assert.Error(t, err)
}

func TestIncompleteTail(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"ascii", []byte("abc"), 0},
		{"complete 2-byte", []byte("é"), 0},
		{"lead of 2-byte", []byte{'a', 0xC3}, 1},
		{"2 of 3", []byte{0xE6, 0x97}, 2},
		{"3 of 4", []byte{0xF0, 0x9F, 0x9A}, 3},
		{"complete 4-byte", []byte("🚀"), 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, incompleteTail(tt.in))
		})
	}
}
