package flash

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// The ROM bootloader runs the flash controller key sequence itself around
// every erase and write command, so Unlock only has to make sure we are
// talking to it and Lock has nothing left to do.

// Unlock makes sure the chip is held in its bootloader
func (mc *Microcontroller) Unlock() error {
	if err := mc.ensureOpen(); err != nil {
		return errors.Wrap(err, "could not reach bootloader")
	}
	logrus.Debug("mcu flash unlock")
	return nil
}

// Lock is a no-op; the bootloader relocks after each command
func (mc *Microcontroller) Lock() error {
	logrus.Debug("mcu flash lock")
	return nil
}

// ErasePages will erase count pages starting at first
func (mc *Microcontroller) ErasePages(first, count uint32) error {
	if err := mc.ensureOpen(); err != nil {
		return err
	}
	return errors.Wrapf(mc.stmCmdErasePages(first, count), "could not erase pages %d+%d", first, count)
}

// ProgramUnit will write the unit at addr with a single write memory command
func (mc *Microcontroller) ProgramUnit(addr uint32, unit []byte) error {
	if err := mc.ensureOpen(); err != nil {
		return err
	}
	return mc.stmCmdWriteMemory(addr, unit)
}

// ReadByte will read a single byte of memory at addr
func (mc *Microcontroller) ReadByte(addr uint32) (byte, error) {
	if err := mc.ensureOpen(); err != nil {
		return 0, err
	}

	bs, err := mc.stmCmdReadMemory(addr, 1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// SetWriteProtection will protect the requested pages, or remove protection
// from the whole flash. The bootloader cannot unprotect single pages.
func (mc *Microcontroller) SetWriteProtection(pages []uint32, enable bool) error {
	if err := mc.ensureOpen(); err != nil {
		return err
	}

	if !enable {
		if len(pages) > 0 {
			logrus.Warnf("write unprotect applies to all pages, not just %v", pages)
		}
		return errors.Wrap(mc.stmCmdWriteUnprotect(), "could not write unprotect")
	}

	return errors.Wrap(mc.stmCmdWriteProtect(pages), "could not write protect")
}

// ensureOpen opens the port on first use. The port then stays open until
// Close or Reset.
func (mc *Microcontroller) ensureOpen() error {
	if mc.IsOpen() {
		return nil
	}
	return mc.Open()
}
