package flash

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// stmExecCmd will run the specified command and check that it is ACK'd
func (mc *Microcontroller) stmExecCmd(c CommandCode) error {
	mc.flushRx()
	if err := mc.Write(mc.stmCommandSequence(c)); err != nil {
		return err
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return err
	}
	return nil
}

// stmCmdSync will sync the bootloader
func (mc *Microcontroller) stmCmdSync() (err error) {
	return mc.stmExecCmd(CommandCodeSync)
}

// stmCmdGet will load information about the bootloader
func (mc *Microcontroller) stmCmdGet() error {
	if err := mc.stmExecCmd(CommandCodeGet); err != nil {
		return err
	}

	bs, err := mc.stmReadWithLength()
	if err != nil {
		return err
	}

	if err = mc.stmReadAckOrNack(); err != nil {
		return err
	}

	mc.stmBootloaderVersion = bs[0]

	// get the command codes from the response
	for i := 0; i < len(bs)-1; i++ {
		mc.stmCmdCodes[CommandCode(i)] = bs[i+1]
	}

	logrus.Debugf("stm bootloader v%x erase=%x", mc.stmBootloaderVersion, mc.stmCommandCode(CommandCodeErase))

	return nil
}

// stmCmdGetId will return the PID of the microcontroller
func (mc *Microcontroller) stmCmdGetId() (string, error) {
	if err := mc.stmExecCmd(CommandCodeGetID); err != nil {
		return "", err
	}

	bs, err := mc.stmReadWithLength()
	if err != nil {
		return "", err
	}

	if err = mc.stmReadAckOrNack(); err != nil {
		return "", err
	}

	return hex.EncodeToString(bs), nil
}

// stmCmdErasePages will erase count pages starting at first, using whichever
// erase variant the bootloader advertised
func (mc *Microcontroller) stmCmdErasePages(first, count uint32) error {
	extended := mc.stmCommandCode(CommandCodeErase) == b_STM_EXTENDED_ERASE

	frame, err := stmErasePagesFrame(extended, first, count)
	if err != nil {
		return err
	}

	if err := mc.stmExecCmd(CommandCodeErase); err != nil {
		return errors.Wrap(err, "err exec erase")
	}

	if err := mc.Write(frame); err != nil {
		return errors.Wrap(err, "err writing page list")
	}

	return errors.Wrap(mc.stmReadAckOrNack(), "err ack after erase")
}

// stmCmdReadMemory will read n bytes of memory starting at addr
func (mc *Microcontroller) stmCmdReadMemory(addr uint32, n int) ([]byte, error) {
	if n < 1 || n > stmReadMax {
		return nil, errors.Errorf("cannot read %d bytes in one command", n)
	}

	if err := mc.stmExecCmd(CommandCodeReadMemory); err != nil {
		return nil, errors.Wrap(err, "err exec read mem")
	}

	if err := mc.Write(stmAddressFrame(addr)); err != nil {
		return nil, errors.Wrap(err, "err writing addr")
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return nil, errors.Wrap(err, "addr ack fail")
	}

	if err := mc.Write(stmComplemented(byte(n - 1))); err != nil {
		return nil, errors.Wrap(err, "err writing length")
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return nil, errors.Wrap(err, "length ack fail")
	}

	return mc.ReadN(n, STMTimeout)
}

// stmCmdWriteMemory will attempt to write the requested data at the provided
// address in memory
func (mc *Microcontroller) stmCmdWriteMemory(addr uint32, data []byte) error {
	if err := mc.stmExecCmd(CommandCodeWriteMemory); err != nil {
		return errors.Wrap(err, "err exec write mem")
	}

	// write the address and its checksum
	if err := mc.Write(stmAddressFrame(addr)); err != nil {
		return errors.Wrap(err, "err writing addr")
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return errors.Wrap(err, "addr ack fail")
	}

	// write the data with length and checksum
	if err := mc.stmWriteWithNAndChecksum(data); err != nil {
		return errors.Wrap(err, "err writing data")
	}

	return errors.Wrap(mc.stmReadAckOrNack(), "err ack after write data")
}

// stmCmdWriteProtect will protect the listed pages. The chip resets once the
// option bytes are written so we resync afterwards.
func (mc *Microcontroller) stmCmdWriteProtect(pages []uint32) error {
	frame, err := stmWriteProtectFrame(pages)
	if err != nil {
		return err
	}

	if err := mc.stmExecCmd(CommandCodeWriteProtect); err != nil {
		return err
	}
	if err := mc.Write(frame); err != nil {
		return errors.Wrap(err, "err writing page list")
	}
	if err := mc.stmReadAckOrNack(); err != nil {
		return err
	}

	return mc.stmCmdSync()
}

// stmCmdWriteUnprotect will set flash to be unprotected so that we can write it
func (mc *Microcontroller) stmCmdWriteUnprotect() error {
	if err := mc.stmExecCmd(CommandCodeWriteUnprotect); err != nil {
		return err
	}
	// this does ACK twice, once for the command and once for the unprotect
	if err := mc.stmReadAckOrNack(); err != nil {
		return err
	}

	// we want to resync after this since it will reset the chip
	return mc.stmCmdSync()
}
