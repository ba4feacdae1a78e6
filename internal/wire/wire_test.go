package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(`{"version":1}`),
		{0, 1, 2, 3, 0xff},
	}
	for _, payload := range cases {
		enc := EncodeRecord(3, payload)
		got, err := DecodeRecord(3, enc)
		if err != nil {
			t.Fatalf("DecodeRecord(%x): %v", payload, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: got %x want %x", got, payload)
		}
	}
}

func TestRecordRejectsDamage(t *testing.T) {
	enc := EncodeRecord(1, []byte("abc"))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = version + 1; return b }},
		{"bad kind", func(b []byte) []byte { b[5] = kindRecord + 1; return b }},
		{"flipped payload bit", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
		{"vlen beyond buffer", func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[11:15], uint32(len("abc")+1))
			return b
		}},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0xDE, 0xAD) }},
		{"header only", func(b []byte) []byte { return b[:headerLen-1] }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mutate(append([]byte(nil), enc...))
			if _, err := DecodeRecord(1, b); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestRecordFormatMismatch(t *testing.T) {
	enc := EncodeRecord(1, []byte("abc"))
	if _, err := DecodeRecord(2, enc); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestRecordZeroCopyPayload(t *testing.T) {
	enc := EncodeRecord(1, []byte("Z"))
	p, err := DecodeRecord(1, enc)
	if err != nil {
		t.Fatal(err)
	}
	p[0] = 'Q'
	if enc[len(enc)-1] != 'Q' {
		t.Fatalf("expected payload to alias the frame buffer")
	}
}
