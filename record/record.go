// Package record holds the handoff record shared by the application and the
// update agent: a packed, fixed-size structure sealed with a CRC-8 and stored
// at a fixed flash address.
//
// The packed layout is
//
//	offset  size  field
//	0       10    device name, zero padded
//	10      1     hardware revision
//	11      1     firmware revision
//	12      1     update flag
//	13      1     CRC-8 of bytes 0..12
package record

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"github.com/synthread/go-handoff/crc8"
	"github.com/synthread/go-handoff/flash"
)

const (
	// NameSize is the width of the device name field
	NameSize = 10
	// Size is the packed size of a record
	Size = NameSize + 4
	// ChecksumOffset is the offset of the CRC byte, the last one
	ChecksumOffset = Size - 1
)

var ErrSize = errors.Errorf("record must be %d bytes", Size)
var ErrNameTooLong = errors.Errorf("device name longer than %d bytes", NameSize)

// ChecksumError is returned when a stored checksum does not match the one
// computed over the record
type ChecksumError struct {
	Stored   byte
	Computed byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: stored 0x%02X, computed 0x%02X", e.Stored, e.Computed)
}

// UpdateFlag tells the next boot whether an update was requested
type UpdateFlag uint8

const (
	NotRequested UpdateFlag = 0
	Requested    UpdateFlag = 1
)

func (f UpdateFlag) String() string {
	switch f {
	case NotRequested:
		return "not-requested"
	case Requested:
		return "requested"
	}
	return fmt.Sprintf("UpdateFlag(%d)", uint8(f))
}

// Identity is the part of the record stamped at build time
type Identity struct {
	DeviceName string
	HWRevision uint8
	FWRevision uint8
}

// DefaultIdentity is the identity of the GX01 board
var DefaultIdentity = Identity{
	DeviceName: "GX01",
	HWRevision: 0x01,
	FWRevision: 0x01,
}

// Validate checks the identity fits the record
func (id Identity) Validate() error {
	if len(id.DeviceName) > NameSize {
		return errors.Wrapf(ErrNameTooLong, "%q", id.DeviceName)
	}
	return nil
}

// Record is the unpacked handoff record
type Record struct {
	DeviceName [NameSize]byte
	HWRevision uint8
	FWRevision uint8
	UpdateFlag UpdateFlag
	Checksum   uint8
}

// New returns a sealed record for id with the given flag. Names longer than
// NameSize are truncated; call Identity.Validate first to reject them.
func New(id Identity, flag UpdateFlag) Record {
	r := Record{
		HWRevision: id.HWRevision,
		FWRevision: id.FWRevision,
		UpdateFlag: flag,
	}
	copy(r.DeviceName[:], id.DeviceName)
	return r.Seal()
}

// Default returns the resting record: no update requested
func Default(id Identity) Record {
	return New(id, NotRequested)
}

// Request returns the record that asks the next boot to stay in the update
// agent
func Request(id Identity) Record {
	return New(id, Requested)
}

// Name returns the device name without its zero padding
func (r Record) Name() string {
	return string(bytes.TrimRight(r.DeviceName[:], "\x00"))
}

// Identity returns the build time fields of the record
func (r Record) Identity() Identity {
	return Identity{DeviceName: r.Name(), HWRevision: r.HWRevision, FWRevision: r.FWRevision}
}

// Seal returns a copy of r with its checksum computed over the other fields
func (r Record) Seal() Record {
	b := r.pack()
	r.Checksum = crc8.Sum(b[:ChecksumOffset])
	return r
}

// Valid reports whether the checksum field matches the other fields
func (r Record) Valid() bool {
	b := r.pack()
	return Verify(b[:])
}

// Bytes returns the packed record exactly as stored, checksum included.
// The checksum is not recomputed.
func (r Record) Bytes() []byte {
	b := r.pack()
	return b[:]
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r Record) MarshalBinary() ([]byte, error) {
	return r.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It fails on a bad
// checksum but still fills r so the caller can inspect what was stored.
func (r *Record) UnmarshalBinary(b []byte) error {
	parsed, err := Parse(b)
	if err != nil && !isChecksumError(err) {
		return err
	}
	*r = parsed
	return err
}

func (r Record) String() string {
	return fmt.Sprintf("%s hw=%d fw=%d update=%s crc=0x%02X", r.Name(), r.HWRevision, r.FWRevision, r.UpdateFlag, r.Checksum)
}

func (r Record) pack() [Size]byte {
	var b [Size]byte
	copy(b[:NameSize], r.DeviceName[:])
	b[NameSize] = r.HWRevision
	b[NameSize+1] = r.FWRevision
	b[NameSize+2] = byte(r.UpdateFlag)
	b[ChecksumOffset] = r.Checksum
	return b
}

// Parse unpacks b. A record whose checksum does not match is returned along
// with a *ChecksumError.
func Parse(b []byte) (Record, error) {
	if len(b) != Size {
		return Record{}, ErrSize
	}

	var r Record
	copy(r.DeviceName[:], b[:NameSize])
	r.HWRevision = b[NameSize]
	r.FWRevision = b[NameSize+1]
	r.UpdateFlag = UpdateFlag(b[NameSize+2])
	r.Checksum = b[ChecksumOffset]

	if computed := crc8.Sum(b[:ChecksumOffset]); computed != r.Checksum {
		return r, &ChecksumError{Stored: r.Checksum, Computed: computed}
	}
	return r, nil
}

// Verify reports whether b is a record whose last byte is the CRC-8 of the
// bytes before it
func Verify(b []byte) bool {
	if len(b) != Size {
		return false
	}
	return crc8.Sum(b[:ChecksumOffset]) == b[ChecksumOffset]
}

func isChecksumError(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}

// Load reads the record stored at addr
func Load(drv *flash.Driver, addr uint32) (Record, error) {
	buf := make([]byte, Size)
	if err := drv.Read(addr, buf); err != nil {
		return Record{}, errors.Wrap(err, "could not read record")
	}
	return Parse(buf)
}
