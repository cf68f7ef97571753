// Package crc8 implements the 8-bit cyclic redundancy check used to seal the
// handoff record. The checksum is MSB-first with a zero initial value and no
// final xor, so it matches the table-driven loop the firmware images run.
package crc8

import (
	"hash"
	"sync"
)

// Size of a CRC-8 checksum in bytes.
const Size = 1

// ATM is the polynomial x^8 + x^2 + x + 1 used by the handoff record.
const ATM = 0x07

// Table is a 256-word table representing the polynomial for efficient
// processing.
type Table [256]byte

var (
	atmOnce  sync.Once
	atmTable *Table
)

// MakeTable returns a Table constructed from the specified polynomial.
func MakeTable(poly byte) *Table {
	t := new(Table)
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Init builds the package table for the ATM polynomial. It may be called any
// number of times from any goroutine; only the first call does work.
func Init() {
	atmOnce.Do(func() {
		atmTable = MakeTable(ATM)
	})
}

// ATMTable returns the shared table for the ATM polynomial.
func ATMTable() *Table {
	Init()
	return atmTable
}

// Update returns the result of adding the bytes in p to the crc.
func Update(crc byte, tab *Table, p []byte) byte {
	for _, b := range p {
		crc = tab[crc^b]
	}
	return crc
}

// Checksum returns the CRC-8 of data using the polynomial represented by tab.
func Checksum(data []byte, tab *Table) byte {
	return Update(0, tab, data)
}

// Sum returns the CRC-8 of data using the ATM polynomial.
func Sum(data []byte) byte {
	return Checksum(data, ATMTable())
}

type digest struct {
	crc byte
	tab *Table
}

// New creates a new hash.Hash computing the CRC-8 checksum using the
// polynomial represented by tab. A nil tab selects the ATM polynomial.
func New(tab *Table) hash.Hash {
	if tab == nil {
		tab = ATMTable()
	}
	return &digest{tab: tab}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return 1 }

func (d *digest) Reset() { d.crc = 0 }

func (d *digest) Write(p []byte) (n int, err error) {
	d.crc = Update(d.crc, d.tab, p)
	return len(p), nil
}

func (d *digest) Sum(in []byte) []byte {
	return append(in, d.crc)
}
