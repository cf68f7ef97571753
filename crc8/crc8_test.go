package crc8

import (
	"sync"
	"testing"
)

func TestMakeTable(t *testing.T) {
	tab := MakeTable(ATM)

	tests := []struct {
		index    int
		expected byte
	}{
		{0x00, 0x00},
		{0x01, 0x07},
		{0x02, 0x0E},
		{0x80, 0x89},
		{0xFF, 0xF3},
	}

	for _, tt := range tests {
		if got := tab[tt.index]; got != tt.expected {
			t.Errorf("table[0x%02X] = 0x%02X, want 0x%02X", tt.index, got, tt.expected)
		}
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00,
		},
		{
			name:     "single byte",
			data:     []byte{0x01},
			expected: 0x07,
		},
		{
			name:     "check string",
			data:     []byte("123456789"),
			expected: 0xF4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sum(tt.data); got != tt.expected {
				t.Errorf("Sum() = 0x%02X, want 0x%02X", got, tt.expected)
			}
		})
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	data := []byte("GX01\x00\x00\x00\x00\x00\x00\x01\x01\x01")
	tab := ATMTable()

	whole := Checksum(data, tab)
	split := Update(Update(0, tab, data[:5]), tab, data[5:])
	if whole != split {
		t.Errorf("split update = 0x%02X, want 0x%02X", split, whole)
	}
}

func TestAppendedChecksumLeavesZero(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sealed := append(data, Sum(data))
	if got := Sum(sealed); got != 0 {
		t.Errorf("Sum(data||crc) = 0x%02X, want 0x00", got)
	}
}

func TestHash(t *testing.T) {
	h := New(nil)
	if h.Size() != Size {
		t.Fatalf("Size() = %d, want %d", h.Size(), Size)
	}

	h.Write([]byte("1234"))
	h.Write([]byte("56789"))
	if got := h.Sum(nil); len(got) != 1 || got[0] != 0xF4 {
		t.Errorf("Sum(nil) = %x, want f4", got)
	}

	h.Reset()
	if got := h.Sum([]byte{0xAA}); got[1] != 0x00 {
		t.Errorf("after Reset, Sum = %x, want aa00", got)
	}
}

func TestInitConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]byte, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Init()
			results[i] = Sum([]byte("123456789"))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != 0xF4 {
			t.Errorf("goroutine %d: Sum = 0x%02X, want 0xF4", i, r)
		}
	}
}
