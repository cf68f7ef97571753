package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/synthread/go-handoff/handoff"
	"github.com/synthread/go-handoff/trigger"
	"go.bug.st/serial"
)

var (
	consoleTTY  string
	consoleBaud int
)

func init() {
	listenCmd.Flags().StringVar(&consoleTTY, "console", "/dev/ttyUSB0", "console UART to watch for the update command")
	listenCmd.Flags().IntVar(&consoleBaud, "console-baud", 115200, "console baud rate")

	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the handoff whenever the update command arrives on a console UART",
	Long:  "Watches the console for 60 F1 55 55 and runs the handoff, writing status lines back to the console",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		port, err := serial.Open(consoleTTY, &serial.Mode{
			BaudRate: consoleBaud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return errors.Wrap(err, "could not open console")
		}
		defer port.Close()

		if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
			return errors.Wrap(err, "could not set console timeout")
		}

		addr, err := recordAddress(t.drv)
		if err != nil {
			return err
		}
		log := logrus.WithField("console", consoleTTY)

		s, err := handoff.New(t.drv, &handoff.Config{
			Address:  addr,
			Identity: identity(),
			Status:   io.MultiWriter(port, os.Stdout),
			Watchdog: t.watchdog(),
			Log:      log,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		l := &trigger.Listener{
			Source: port,
			Handler: func(ctx context.Context) error {
				err := s.Run(ctx)
				if ferr := t.flush(); ferr != nil {
					log.WithError(ferr).Error("could not save image")
				}
				return err
			},
			Log: log,
		}

		log.Info("waiting for update command")
		err = l.Listen(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
