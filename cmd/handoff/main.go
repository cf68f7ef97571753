package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/synthread/go-handoff/flash"
	"github.com/synthread/go-handoff/handoff"
	"github.com/synthread/go-handoff/record"
)

var (
	backend   string
	imagePath string
	tty       string
	baud      int
	boot0     int
	boot1     int
	power     int
	address   string
	devName   string
	hwRev     uint8
	fwRev     uint8
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:           "handoff",
	Short:         "Manage the application/update agent handoff record",
	Long:          "Reads, requests and restores the CRC-8 sealed record that tells the next boot whether to stay in the update agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&backend, "backend", "b", "image", "flash backend: image or mcu")
	f.StringVarP(&imagePath, "image", "i", "flash.bin", "flash image file for the image backend")
	f.StringVar(&tty, "tty", flash.DefaultTTY, "bootloader UART for the mcu backend")
	f.IntVar(&baud, "baud", flash.DefaultBaud, "bootloader baud rate")
	f.IntVar(&boot0, "boot0", 39, "BOOT0 GPIO")
	f.IntVar(&boot1, "boot1", 41, "BOOT1 GPIO")
	f.IntVar(&power, "power", 19, "power GPIO")
	f.StringVarP(&address, "address", "a", "", "record address (default last page of flash)")
	f.StringVar(&devName, "name", record.DefaultIdentity.DeviceName, "device name stamped in the record")
	f.Uint8Var(&hwRev, "hw", record.DefaultIdentity.HWRevision, "hardware revision")
	f.Uint8Var(&fwRev, "fw", record.DefaultIdentity.FWRevision, "firmware revision")
	f.StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// target is the flash the commands operate on
type target struct {
	drv *flash.Driver
	sim *flash.SimMemory
	mcu *flash.Microcontroller
}

func openTarget() (*target, error) {
	switch backend {
	case "image":
		sm, err := flash.LoadImage(imagePath, flash.STM32G031x8)
		if err != nil {
			return nil, err
		}
		drv, err := flash.NewDriver(sm, flash.STM32G031x8)
		if err != nil {
			return nil, err
		}
		return &target{drv: drv, sim: sm}, nil

	case "mcu":
		mc, err := flash.NewMicrocontroller(&flash.Config{
			Boot0GPIO:      boot0,
			Boot1GPIO:      boot1,
			PowerGPIO:      power,
			BootloaderBaud: baud,
			TTY:            tty,
		})
		if err != nil {
			return nil, err
		}
		drv, err := flash.NewDriver(mc, mc.Geometry())
		if err != nil {
			return nil, err
		}
		return &target{drv: drv, mcu: mc}, nil
	}

	return nil, errors.Errorf("unknown backend %q", backend)
}

// flush persists the image so the next command sees what was written
func (t *target) flush() error {
	if t.sim != nil {
		return t.sim.SaveImage(imagePath)
	}
	return nil
}

func (t *target) close() error {
	if t.mcu != nil && t.mcu.IsOpen() {
		t.mcu.Close()
	}
	return t.flush()
}

// watchdog power cycles a real chip; for an image the restart is only logged
func (t *target) watchdog() handoff.Watchdog {
	if t.mcu != nil {
		return handoff.WatchdogFunc(t.mcu.Reset)
	}
	return handoff.WatchdogFunc(func() error {
		logrus.WithField("image", imagePath).Info("restart requested")
		return nil
	})
}

func recordAddress(drv *flash.Driver) (uint32, error) {
	if address == "" {
		return drv.Geometry().LastPage(), nil
	}
	v, err := strconv.ParseUint(address, 0, 32)
	if err != nil {
		return 0, errors.Wrap(err, "invalid address")
	}
	return uint32(v), nil
}

func identity() record.Identity {
	return record.Identity{DeviceName: devName, HWRevision: hwRev, FWRevision: fwRev}
}

func newSession(t *target) (*handoff.Session, error) {
	addr, err := recordAddress(t.drv)
	if err != nil {
		return nil, err
	}
	return handoff.New(t.drv, &handoff.Config{
		Address:  addr,
		Identity: identity(),
		Status:   os.Stdout,
		Watchdog: t.watchdog(),
		Log:      logrus.WithField("backend", backend),
	})
}
