package flash

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

const b_STM_ACK byte = 0x79
const b_STM_NACK byte = 0x1f
const b_STM_SYNC byte = 0x7f
const b_STM_EXTENDED_ERASE byte = 0x44
const stmReadMax = 256

var STMTimeout = 5 * time.Second

var ErrSTMFailedToAck = errors.New("failed to read ack or nack from stm microcontroller")
var ErrSTMNACK = errors.New("received nack from stm microcontroller")

type CommandCode int

// these must be the index of the bytes as received in the get data call
const (
	CommandCodeSync             CommandCode = -1
	CommandCodeGet              CommandCode = 0
	CommandCodeGetVersion       CommandCode = 1
	CommandCodeGetID            CommandCode = 2
	CommandCodeReadMemory       CommandCode = 3
	CommandCodeGo               CommandCode = 4
	CommandCodeWriteMemory      CommandCode = 5
	CommandCodeErase            CommandCode = 6
	CommandCodeWriteProtect     CommandCode = 7
	CommandCodeWriteUnprotect   CommandCode = 8
	CommandCodeReadoutProtect   CommandCode = 9
	CommandCodeReadoutUnprotect CommandCode = 10
)

// these are the default command codes
type commandCodeMap map[CommandCode]byte

// parts with more than 256 pages, like the G0, report the extended erase
// code 0x44 in the Get response in place of 0x43
var defaultCmdCodeMap map[CommandCode]byte = map[CommandCode]byte{
	CommandCodeGet:              0x00,
	CommandCodeGetVersion:       0x01,
	CommandCodeGetID:            0x02,
	CommandCodeReadMemory:       0x11,
	CommandCodeGo:               0x21,
	CommandCodeWriteMemory:      0x31,
	CommandCodeErase:            0x43,
	CommandCodeWriteProtect:     0x63,
	CommandCodeWriteUnprotect:   0x73,
	CommandCodeReadoutProtect:   0x82,
	CommandCodeReadoutUnprotect: 0x92,
}

func (mc *Microcontroller) stmInit() error {
	mc.enterSTBL()

	if err := mc.stmCmdSync(); err != nil {
		return err
	}
	return mc.stmCmdGet()
}

// enterSTBL will execute the GPIO sequence to enter the STM bootloader
func (mc *Microcontroller) enterSTBL() {
	mc.pinPower.Low()

	// BOOT0 low and BOOT1 high when reapplying PWR will go into the bootloader
	// mode on STM32 chips
	mc.pinBoot0.High()
	mc.pinBoot1.Low()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	time.Sleep(10 * time.Millisecond)
}

// exitSTBL will execute the GPIO sequence to exit the STM bootloader
func (mc *Microcontroller) exitSTBL() {
	mc.pinPower.Low()
	mc.pinBoot0.Low()
	mc.pinBoot1.Low()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	time.Sleep(10 * time.Millisecond)
}

// stmCommandCode returns the byte the bootloader uses for the command
func (mc *Microcontroller) stmCommandCode(c CommandCode) byte {
	cmdb, ok := mc.stmCmdCodes[c]
	if !ok {
		cmdb, ok = defaultCmdCodeMap[c]
		if !ok {
			panic("unknown command code")
		}
	}
	return cmdb
}

// stmCommandSequence will return the byte sequence required for the requested
// command
func (mc *Microcontroller) stmCommandSequence(c CommandCode) []byte {
	if c == CommandCodeSync {
		return []byte{b_STM_SYNC}
	}
	return stmComplemented(mc.stmCommandCode(c))
}

// stmComplemented returns b followed by its complement, the framing used for
// command bytes and read lengths
func stmComplemented(b byte) []byte {
	return []byte{b, 0xff ^ b}
}

// stmReadWithLength will read the next bytes based on a STM formatted message
// which is prefixed by a single byte that represents the length of the
// expected message
func (mc *Microcontroller) stmReadWithLength() ([]byte, error) {
	n, err := mc.ReadN(1, STMTimeout)
	if err != nil {
		return nil, err
	}
	if len(n) != 1 {
		return nil, errors.New("could not get length from stm microcontroller")
	}
	return mc.ReadN(int(n[0])+1, STMTimeout)
}

// stmWriteWithNAndChecksum will write the data prefixed with the length in a
// single byte and suffixed with the checksum of the entire message
func (mc *Microcontroller) stmWriteWithNAndChecksum(bs []byte) error {
	return mc.Write(stmWithNAndChecksum(bs))
}

func stmWithChecksum(bs []byte) []byte {
	out := make([]byte, 0, len(bs)+1)
	out = append(out, bs...)
	return append(out, checksum(bs))
}

func stmWithNAndChecksum(bs []byte) []byte {
	return stmWithChecksum(append([]byte{byte(len(bs) - 1)}, bs...))
}

// stmAddressFrame returns the big endian address followed by its checksum
func stmAddressFrame(addr uint32) []byte {
	bs := make([]byte, 4)
	binary.BigEndian.PutUint32(bs, addr)
	return stmWithChecksum(bs)
}

// stmErasePagesFrame returns the page list for an erase command. The
// standard erase takes one byte per page, the extended erase two bytes per
// page and a two byte count.
func stmErasePagesFrame(extended bool, first, count uint32) ([]byte, error) {
	if count == 0 {
		return nil, errors.New("must erase at least one page")
	}
	last := first + count - 1

	if !extended {
		if last > 0xff {
			return nil, errors.Errorf("page %d needs extended erase", last)
		}
		pages := make([]byte, 0, count)
		for p := first; p <= last; p++ {
			pages = append(pages, byte(p))
		}
		return stmWithNAndChecksum(pages), nil
	}

	// counts from 0xfff0 up are reserved for mass and bank erase
	if count-1 >= 0xfff0 || last > 0xffff {
		return nil, errors.Errorf("cannot erase %d pages from %d", count, first)
	}
	bs := make([]byte, 2, 2+2*count)
	binary.BigEndian.PutUint16(bs, uint16(count-1))
	for p := first; p <= last; p++ {
		bs = binary.BigEndian.AppendUint16(bs, uint16(p))
	}
	return stmWithChecksum(bs), nil
}

// stmWriteProtectFrame returns the sector list for a write protect command
func stmWriteProtectFrame(pages []uint32) ([]byte, error) {
	if len(pages) == 0 || len(pages) > 256 {
		return nil, errors.Errorf("cannot protect %d pages at once", len(pages))
	}
	bs := make([]byte, 0, len(pages))
	for _, p := range pages {
		if p > 0xff {
			return nil, errors.Errorf("page %d cannot be addressed by write protect", p)
		}
		bs = append(bs, byte(p))
	}
	return stmWithNAndChecksum(bs), nil
}

// stmReadAckOrNack reads whether the pending byte is ACK, NACK, or neither
// and returns the ACK/NACK status, whether it is valid, and an optional error
// if it could not be read or timed out
func (mc *Microcontroller) stmReadAckOrNack() (err error) {
	bs, err := mc.ReadN(1, STMTimeout)
	if err != nil {
		return
	}

	if bs[0] == b_STM_ACK {
		return nil
	} else if bs[0] == b_STM_NACK {
		return ErrSTMNACK
	}

	return ErrSTMFailedToAck
}
