package flash

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Driver performs aligned erase, verified program and byte reads against a
// Memory. Erase and program hold the flash unlocked only for the duration of
// the call, and only one of them runs at a time.
type Driver struct {
	mem  Memory
	geom Geometry

	// mu guards the unlock/lock window of the controller
	mu sync.Mutex
}

// NewDriver wraps mem with the given geometry
func NewDriver(mem Memory, geom Geometry) (*Driver, error) {
	if mem == nil {
		return nil, errors.New("memory must not be nil")
	}
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid geometry")
	}
	return &Driver{mem: mem, geom: geom}, nil
}

// Geometry returns the geometry the driver enforces
func (d *Driver) Geometry() Geometry {
	return d.geom
}

// Memory returns the underlying memory
func (d *Driver) Memory() Memory {
	return d.mem
}

// unlocked runs fn with the flash controller unlocked. The controller is
// locked again on every path out, including when unlocking failed part way.
func (d *Driver) unlocked(fn func() error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if lerr := d.mem.Lock(); lerr != nil {
			logrus.Error("flash lock err: ", lerr.Error())
			if err == nil {
				err = errors.Wrap(lerr, "could not lock flash")
			}
		}
	}()

	if err = d.mem.Unlock(); err != nil {
		return errors.Wrap(err, "could not unlock flash")
	}

	return fn()
}

// Erase erases every page from start up to the end of the user area. start
// must be page aligned and inside the user area; a rejected start address
// never reaches the hardware.
func (d *Driver) Erase(start uint32) error {
	g := d.geom

	if start < g.Base || start >= g.End {
		return &EraseError{Addr: start, Err: ErrOutOfRange}
	}
	if !aligned(start-g.Base, g.PageSize) {
		return &EraseError{Addr: start, Err: ErrMisaligned}
	}

	first := g.Page(start)
	count := (g.End - start) / g.PageSize

	logrus.Debugf("flash erase: pages %d+%d @ %x", first, count, start)

	err := d.unlocked(func() error {
		return d.mem.ErasePages(first, count)
	})
	if err != nil {
		return &EraseError{Addr: start, Err: err}
	}
	return nil
}

// Program writes src at dst one program unit at a time, reading every unit
// back after it is programmed. A short final unit is padded with the erased
// value so the bytes past src stay as they were after the erase. dst must be
// unit aligned and the padded length must fit in the user area; otherwise
// nothing is written.
func (d *Driver) Program(dst uint32, src []byte) error {
	g := d.geom
	unitSize := int(g.UnitSize)

	if !g.Contains(dst, alignUp(len(src), unitSize)) {
		return &WriteError{Addr: dst, Kind: InvalidTarget, Err: ErrOutOfRange}
	}
	if !aligned(dst-g.Base, g.UnitSize) {
		return &WriteError{Addr: dst, Kind: InvalidTarget, Err: ErrMisaligned}
	}

	return d.unlocked(func() error {
		unit := make([]byte, unitSize)
		got := make([]byte, unitSize)

		for offset := 0; offset < len(src); offset += unitSize {
			addr := dst + uint32(offset)
			endIndex := min(len(src), offset+unitSize)

			n := copy(unit, src[offset:endIndex])
			for i := n; i < unitSize; i++ {
				unit[i] = ErasedValue
			}

			if err := d.mem.ProgramUnit(addr, unit); err != nil {
				return &WriteError{Addr: addr, Kind: HardwareFault, Err: err}
			}

			for i := range got {
				b, err := d.mem.ReadByte(addr + uint32(i))
				if err != nil {
					return &WriteError{Addr: addr, Kind: HardwareFault, Err: errors.Wrap(err, "could not read back")}
				}
				got[i] = b
			}

			if !bytes.Equal(unit, got) {
				return &WriteError{
					Addr: addr,
					Kind: VerifyMismatch,
					Want: append([]byte(nil), unit...),
					Got:  append([]byte(nil), got...),
				}
			}

			logrus.Debugf("flash program: %x @ %x", unit, addr)
		}
		return nil
	})
}

// Read fills buf with the bytes starting at addr. Reading never needs the
// controller unlocked. An empty buf is an error, not a no-op.
func (d *Driver) Read(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return &ReadError{Addr: addr, Len: 0, Err: ErrZeroLength}
	}
	if !d.geom.Contains(addr, len(buf)) {
		return &ReadError{Addr: addr, Len: len(buf), Err: ErrOutOfRange}
	}

	for i := range buf {
		b, err := d.mem.ReadByte(addr + uint32(i))
		if err != nil {
			return &ReadError{Addr: addr, Len: len(buf), Err: err}
		}
		buf[i] = b
	}
	return nil
}

// SetWriteProtection marks the given pages protected or unprotected if the
// memory supports it
func (d *Driver) SetWriteProtection(pages []uint32, enable bool) error {
	p, ok := d.mem.(Protector)
	if !ok {
		return ErrNotSupported
	}
	for _, page := range pages {
		if page >= d.geom.Pages() {
			return errors.Wrapf(ErrOutOfRange, "page %d", page)
		}
	}
	return d.unlocked(func() error {
		return p.SetWriteProtection(pages, enable)
	})
}
