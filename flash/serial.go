package flash

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrTimeout = errors.New("timed out reading from microcontroller")
var ErrClosed = errors.New("serial port is closed")

// Open will power cycle the chip into its bootloader and sync with it
func (mc *Microcontroller) Open() (err error) {
	if err = mc.setupPins(); err != nil {
		return errors.Wrap(err, "could not setup pins")
	}

	mc.ttyPort, err = serial.Open(mc.TTY(), &serial.Mode{
		BaudRate: mc.BaudRate(),
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		mc.ttyPort = nil
		return errors.Wrap(err, "could not open serial")
	}

	mc.ttyRx = make(chan byte, 512)
	mc.ttyDone = make(chan struct{})
	go mc.rx(mc.ttyPort, mc.ttyRx, mc.ttyDone)

	if err = errors.Wrap(mc.stmInit(), "could not init stm chip"); err != nil {
		mc.Close()
		return
	}

	logrus.WithField("tty", mc.TTY()).Debug("mcu open")

	return nil
}

// Close will close the connection and reset the MCU
func (mc *Microcontroller) Close() error {
	mc.exitSTBL()

	if mc.ttyPort != nil {
		close(mc.ttyDone)
		mc.ttyPort.Close()
		mc.ttyPort = nil
	}

	// resets the pins to a running state
	mc.pinBoot0.Cleanup()
	mc.pinBoot1.Cleanup()
	mc.pinPower.Cleanup()

	logrus.Debug("mcu close")

	return nil
}

func (mc *Microcontroller) IsOpen() bool {
	return mc.ttyPort != nil
}

// rx is the loop that reads from the port and writes the incoming bytes to
// the rx chan until the port is closed
func (mc *Microcontroller) rx(port serial.Port, out chan<- byte, done <-chan struct{}) {
	buf := make([]byte, 64)

	port.SetReadTimeout(1 * time.Millisecond)

	for {
		n, err := port.Read(buf)
		if err != nil {

			// don't write out if we're just complaining about it being closed
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return
			}

			if errors.Is(err, syscall.EBADF) {
				return
			}

			logrus.Error("rx err: ", err.Error())
			return
		}

		for _, b := range buf[:n] {
			select {
			case out <- b:
			case <-done:
				return
			}
		}
		if n > 0 {
			logrus.Debugf("mcu rx: %x", buf[:n])
		}

		select {
		case <-done:
			return
		default:
		}
	}
}

// Write will write the specified bytes to the microcontroller
func (mc *Microcontroller) Write(bs ...[]byte) (err error) {
	if !mc.IsOpen() {
		return ErrClosed
	}

	if len(bs) == 0 {
		panic("must provide at least one []byte")
	}

	for _, b := range bs {
		_, err = mc.ttyPort.Write(b)
		if err != nil {
			return
		}
		logrus.Debugf("mcu tx: %x", b)
	}

	return
}

// ReadN will read exactly N bytes from the rx chan
func (mc *Microcontroller) ReadN(n int, to time.Duration) ([]byte, error) {
	if !mc.IsOpen() {
		return nil, ErrClosed
	}

	bs := make([]byte, n)
	timer := time.NewTimer(to)
	defer timer.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-timer.C:
			return nil, ErrTimeout
		case b := <-mc.ttyRx:
			bs[i] = b
		}
	}

	return bs, nil
}

// flushRx drops anything left over from a previous exchange
func (mc *Microcontroller) flushRx() {
	for {
		select {
		case b := <-mc.ttyRx:
			logrus.Debugf("mcu rx dropped: %x", b)
		default:
			return
		}
	}
}
