package record

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/synthread/go-handoff/crc8"
	"github.com/synthread/go-handoff/flash"
)

var gx01 = []byte{'G', 'X', '0', '1', 0, 0, 0, 0, 0, 0, 0x01, 0x01}

func TestTemplates(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		flag     UpdateFlag
		expected []byte
	}{
		{
			name:     "default",
			record:   Default(DefaultIdentity),
			flag:     NotRequested,
			expected: append(append([]byte{}, gx01...), 0x00, 0xAF),
		},
		{
			name:     "request",
			record:   Request(DefaultIdentity),
			flag:     Requested,
			expected: append(append([]byte{}, gx01...), 0x01, 0xA8),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.record.UpdateFlag != tt.flag {
				t.Errorf("UpdateFlag = %s, want %s", tt.record.UpdateFlag, tt.flag)
			}
			if got := tt.record.Bytes(); !bytes.Equal(got, tt.expected) {
				t.Errorf("Bytes() = %x, want %x", got, tt.expected)
			}
			if !tt.record.Valid() {
				t.Error("template is not sealed")
			}
			if tt.record.Name() != "GX01" {
				t.Errorf("Name() = %q", tt.record.Name())
			}
		})
	}
}

func TestVerifyMatchesChecksumOfPrefix(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		b := make([]byte, Size)
		rng.Read(b)
		if i%2 == 0 {
			b[ChecksumOffset] = crc8.Sum(b[:ChecksumOffset])
		}

		want := crc8.Sum(b[:Size-1]) == b[Size-1]
		if got := Verify(b); got != want {
			t.Fatalf("Verify(%x) = %v, want %v", b, got, want)
		}
	}
}

func TestVerifyEveryChecksumByte(t *testing.T) {
	b := Default(DefaultIdentity).Bytes()
	good := b[ChecksumOffset]

	for c := 0; c < 256; c++ {
		b[ChecksumOffset] = byte(c)
		if got := Verify(b); got != (byte(c) == good) {
			t.Errorf("Verify with crc 0x%02X = %v", c, got)
		}
	}
}

func TestVerifyWrongLength(t *testing.T) {
	b := Default(DefaultIdentity).Bytes()
	if Verify(b[:Size-1]) {
		t.Error("Verify accepted a short buffer")
	}
	if Verify(append(b, 0)) {
		t.Error("Verify accepted a long buffer")
	}
}

func TestParse(t *testing.T) {
	want := Request(DefaultIdentity)

	got, err := Parse(want.Bytes())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != want {
		t.Errorf("Parse() = %v, want %v", got, want)
	}

	corrupt := want.Bytes()
	corrupt[NameSize+2] ^= 0x01
	got, err = Parse(corrupt)
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("Parse(corrupt) error = %v, want *ChecksumError", err)
	}
	if ce.Stored != want.Checksum || got.UpdateFlag != NotRequested {
		t.Errorf("Parse(corrupt) = %v, %v", got, ce)
	}

	if _, err := Parse(make([]byte, 3)); err != ErrSize {
		t.Errorf("Parse(short) error = %v, want ErrSize", err)
	}
}

func TestUnmarshalBinary(t *testing.T) {
	data, _ := Default(DefaultIdentity).MarshalBinary()

	var r Record
	if err := r.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if r.Identity() != DefaultIdentity {
		t.Errorf("Identity() = %+v", r.Identity())
	}
}

func TestIdentityValidate(t *testing.T) {
	if err := (Identity{DeviceName: "0123456789"}).Validate(); err != nil {
		t.Errorf("10 byte name rejected: %v", err)
	}
	if err := (Identity{DeviceName: "0123456789A"}).Validate(); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("11 byte name error = %v, want ErrNameTooLong", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	g := flash.STM32G031x8
	addr := g.LastPage()

	for _, want := range []Record{Default(DefaultIdentity), Request(DefaultIdentity)} {
		t.Run(want.UpdateFlag.String(), func(t *testing.T) {
			drv, err := flash.NewDriver(flash.NewSimMemory(g), g)
			if err != nil {
				t.Fatal(err)
			}
			if err := drv.Erase(addr); err != nil {
				t.Fatalf("Erase() error = %v", err)
			}
			if err := drv.Program(addr, want.Bytes()); err != nil {
				t.Fatalf("Program() error = %v", err)
			}

			got, err := Load(drv, addr)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got != want {
				t.Errorf("Load() = %v, want %v", got, want)
			}
		})
	}
}

func TestLoadErased(t *testing.T) {
	g := flash.STM32G031x8
	drv, _ := flash.NewDriver(flash.NewSimMemory(g), g)

	_, err := Load(drv, g.LastPage())
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Errorf("Load(erased) error = %v, want *ChecksumError", err)
	}
}
