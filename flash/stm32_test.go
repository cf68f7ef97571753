package flash

import (
	"bytes"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"empty", []byte{}, 0x00},
		{"single byte", []byte{0x31}, 0x31},
		{"address", []byte{0x08, 0x00, 0xf8, 0x00}, 0xf0},
		{"complement pair", []byte{0x44, 0xbb}, 0xff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checksum(tt.data); got != tt.expected {
				t.Errorf("checksum() = 0x%02X, want 0x%02X", got, tt.expected)
			}
		})
	}
}

func TestSTMFrames(t *testing.T) {
	if got := stmAddressFrame(0x0800f800); !bytes.Equal(got, []byte{0x08, 0x00, 0xf8, 0x00, 0xf0}) {
		t.Errorf("stmAddressFrame() = %x", got)
	}
	if got := stmComplemented(0x0d); !bytes.Equal(got, []byte{0x0d, 0xf2}) {
		t.Errorf("stmComplemented() = %x", got)
	}
	if got := stmWithNAndChecksum([]byte{0xaa, 0xbb}); !bytes.Equal(got, []byte{0x01, 0xaa, 0xbb, 0x10}) {
		t.Errorf("stmWithNAndChecksum() = %x", got)
	}
}

func TestSTMErasePagesFrame(t *testing.T) {
	tests := []struct {
		name     string
		extended bool
		first    uint32
		count    uint32
		expected []byte
		wantErr  bool
	}{
		{
			name:     "standard single page",
			first:    31,
			count:    1,
			expected: []byte{0x00, 0x1f, 0x1f},
		},
		{
			name:     "extended single page",
			extended: true,
			first:    31,
			count:    1,
			expected: []byte{0x00, 0x00, 0x00, 0x1f, 0x1f},
		},
		{
			name:     "extended two pages",
			extended: true,
			first:    30,
			count:    2,
			expected: []byte{0x00, 0x01, 0x00, 0x1e, 0x00, 0x1f, 0x00},
		},
		{
			name:    "standard page past 255",
			first:   300,
			count:   1,
			wantErr: true,
		},
		{
			name:     "no pages",
			extended: true,
			count:    0,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stmErasePagesFrame(tt.extended, tt.first, tt.count)
			if (err != nil) != tt.wantErr {
				t.Fatalf("stmErasePagesFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("stmErasePagesFrame() = %x, want %x", got, tt.expected)
			}
		})
	}
}

func TestSTMWriteProtectFrame(t *testing.T) {
	got, err := stmWriteProtectFrame([]uint32{1, 2})
	if err != nil {
		t.Fatalf("stmWriteProtectFrame() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x01, 0x02, 0x02}) {
		t.Errorf("stmWriteProtectFrame() = %x", got)
	}

	if _, err := stmWriteProtectFrame(nil); err == nil {
		t.Error("stmWriteProtectFrame(nil) succeeded")
	}
	if _, err := stmWriteProtectFrame([]uint32{256}); err == nil {
		t.Error("stmWriteProtectFrame(256) succeeded")
	}
}
