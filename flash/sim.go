package flash

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errSimEraseFault = errors.New("simulated erase fault")
var errSimProgramFault = errors.New("simulated program fault")

// SimStats counts the controller operations a SimMemory has seen
type SimStats struct {
	Unlocks  int
	Locks    int
	Erases   int
	Programs int
	Reads    int
}

// SimMemory is an in-memory flash that enforces the same rules as the
// hardware: mutations need the controller unlocked, programming only turns
// erased bytes into data, and protected pages reject both. Faults can be
// injected to exercise the retry paths.
type SimMemory struct {
	mu sync.Mutex

	geom      Geometry
	data      []byte
	locked    bool
	protected map[uint32]bool

	eraseFaults   int
	programFaults int
	corruptNext   bool

	stats SimStats
}

// NewSimMemory returns a fully erased, locked flash with the given geometry
func NewSimMemory(g Geometry) *SimMemory {
	data := make([]byte, g.End-g.Base)
	for i := range data {
		data[i] = ErasedValue
	}
	return &SimMemory{
		geom:      g,
		data:      data,
		locked:    true,
		protected: map[uint32]bool{},
	}
}

// LoadImage returns a SimMemory backed by the contents of the image at
// path. A missing file gives a fully erased flash.
func LoadImage(path string, g Geometry) (*SimMemory, error) {
	sm := NewSimMemory(g)

	bs, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("image %s not found, starting erased", path)
		return sm, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read image")
	}
	if len(bs) != len(sm.data) {
		return nil, errors.Errorf("image %s is %d bytes, expected %d", path, len(bs), len(sm.data))
	}

	copy(sm.data, bs)
	return sm, nil
}

// SaveImage writes the full contents of the flash to path
func (sm *SimMemory) SaveImage(path string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return errors.Wrap(os.WriteFile(path, sm.data, 0o644), "could not write image")
}

func (sm *SimMemory) Unlock() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.locked = false
	sm.stats.Unlocks++
	return nil
}

func (sm *SimMemory) Lock() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.locked = true
	sm.stats.Locks++
	return nil
}

func (sm *SimMemory) ErasePages(first, count uint32) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.locked {
		return ErrLocked
	}
	if first+count > sm.geom.Pages() {
		return ErrOutOfRange
	}
	for p := first; p < first+count; p++ {
		if sm.protected[p] {
			return errors.Wrapf(ErrWriteProtected, "page %d", p)
		}
	}
	if sm.eraseFaults > 0 {
		sm.eraseFaults--
		return errSimEraseFault
	}

	start := first * sm.geom.PageSize
	end := (first + count) * sm.geom.PageSize
	for i := start; i < end; i++ {
		sm.data[i] = ErasedValue
	}
	sm.stats.Erases++
	return nil
}

func (sm *SimMemory) ProgramUnit(addr uint32, unit []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.locked {
		return ErrLocked
	}
	if len(unit) != int(sm.geom.UnitSize) {
		return errors.Errorf("unit must be %d bytes, got %d", sm.geom.UnitSize, len(unit))
	}
	if !sm.geom.Contains(addr, len(unit)) {
		return ErrOutOfRange
	}
	if sm.protected[sm.geom.Page(addr)] {
		return ErrWriteProtected
	}
	if sm.programFaults > 0 {
		sm.programFaults--
		return errSimProgramFault
	}

	off := addr - sm.geom.Base
	for _, b := range sm.data[off : off+uint32(len(unit))] {
		if b != ErasedValue {
			return ErrNotErased
		}
	}

	copy(sm.data[off:], unit)
	if sm.corruptNext {
		sm.corruptNext = false
		sm.data[off] ^= 0x01
	}
	sm.stats.Programs++
	return nil
}

func (sm *SimMemory) ReadByte(addr uint32) (byte, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.geom.Contains(addr, 1) {
		return 0, ErrOutOfRange
	}
	sm.stats.Reads++
	return sm.data[addr-sm.geom.Base], nil
}

func (sm *SimMemory) SetWriteProtection(pages []uint32, enable bool) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.locked {
		return ErrLocked
	}
	for _, p := range pages {
		if enable {
			sm.protected[p] = true
		} else {
			delete(sm.protected, p)
		}
	}
	return nil
}

// InjectEraseFaults makes the next n erase operations fail
func (sm *SimMemory) InjectEraseFaults(n int) {
	sm.mu.Lock()
	sm.eraseFaults = n
	sm.mu.Unlock()
}

// InjectProgramFaults makes the next n program operations fail
func (sm *SimMemory) InjectProgramFaults(n int) {
	sm.mu.Lock()
	sm.programFaults = n
	sm.mu.Unlock()
}

// CorruptNextProgram flips the lowest bit of the next programmed unit after
// it lands, like a marginal write would
func (sm *SimMemory) CorruptNextProgram() {
	sm.mu.Lock()
	sm.corruptNext = true
	sm.mu.Unlock()
}

// FlipBit inverts one bit of the stored data
func (sm *SimMemory) FlipBit(addr uint32, bit uint) error {
	if !sm.geom.Contains(addr, 1) {
		return errors.Wrapf(ErrOutOfRange, "flip bit @ %x", addr)
	}

	sm.mu.Lock()
	sm.data[addr-sm.geom.Base] ^= 1 << (bit & 7)
	sm.mu.Unlock()
	return nil
}

// Snapshot returns a copy of n bytes at addr, or nil if they are not all
// inside the user area
func (sm *SimMemory) Snapshot(addr uint32, n int) []byte {
	if n < 0 || !sm.geom.Contains(addr, n) {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	off := addr - sm.geom.Base
	return append([]byte(nil), sm.data[off:off+uint32(n)]...)
}

// IsLocked reports whether the controller is currently locked
func (sm *SimMemory) IsLocked() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.locked
}

// Stats returns the operation counters
func (sm *SimMemory) Stats() SimStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stats
}
