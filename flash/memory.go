package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErasedValue is what every byte of an erased page reads back as.
const ErasedValue byte = 0xff

// Memory is the raw flash controller the Driver sits on. Implementations
// are not expected to check alignment or bounds; the Driver does that before
// calling in.
type Memory interface {
	// Unlock opens the flash controller for erase and program operations
	Unlock() error
	// Lock closes the flash controller again
	Lock() error
	// ErasePages erases count pages starting at page index first
	ErasePages(first, count uint32) error
	// ProgramUnit programs exactly one program unit at addr
	ProgramUnit(addr uint32, unit []byte) error
	// ReadByte reads a single byte at addr
	ReadByte(addr uint32) (byte, error)
}

// Protector is implemented by memories that can mark pages as write
// protected. The handoff itself never calls it.
type Protector interface {
	SetWriteProtection(pages []uint32, enable bool) error
}

// Geometry describes the user flash area of a part
type Geometry struct {
	// Base is the first address of flash
	Base uint32
	// End is the first address past the user area
	End uint32
	// PageSize is the erase granularity in bytes
	PageSize uint32
	// UnitSize is the number of bytes programmed atomically
	UnitSize uint32
}

// STM32G031x8 is the 64 KiB single bank part the handoff record was laid out
// for. The flash is programmed by double word.
var STM32G031x8 = Geometry{
	Base:     0x08000000,
	End:      0x08010000,
	PageSize: 2048,
	UnitSize: 8,
}

// Validate checks the geometry is internally consistent
func (g Geometry) Validate() error {
	if g.PageSize == 0 || g.UnitSize == 0 {
		return errors.New("page and unit size must be non-zero")
	}
	if g.End <= g.Base {
		return errors.New("flash end must be past flash base")
	}
	if g.PageSize%g.UnitSize != 0 {
		return errors.New("page size must be a multiple of the unit size")
	}
	if (g.End-g.Base)%g.PageSize != 0 {
		return errors.New("user area must be a whole number of pages")
	}
	return nil
}

// Pages returns the number of pages in the user area
func (g Geometry) Pages() uint32 {
	return (g.End - g.Base) / g.PageSize
}

// Page returns the index of the page containing addr
func (g Geometry) Page(addr uint32) uint32 {
	return (addr - g.Base) / g.PageSize
}

// PageAddr returns the start address of page
func (g Geometry) PageAddr(page uint32) uint32 {
	return g.Base + page*g.PageSize
}

// LastPage returns the start address of the final page of the user area.
func (g Geometry) LastPage() uint32 {
	return g.End - g.PageSize
}

// Contains reports whether [addr, addr+n) lies inside the user area
func (g Geometry) Contains(addr uint32, n int) bool {
	if addr < g.Base || addr >= g.End {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(g.End)
}

func (g Geometry) String() string {
	return fmt.Sprintf("flash[0x%08x-0x%08x page=%d unit=%d]", g.Base, g.End, g.PageSize, g.UnitSize)
}
