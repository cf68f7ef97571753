package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/synthread/go-handoff/record"
)

var unprotect bool

func init() {
	protectCmd.Flags().BoolVar(&unprotect, "disable", false, "remove write protection instead")

	rootCmd.AddCommand(requestCmd, showCmd, restoreCmd, protectCmd, idCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request update mode on the next boot",
	Long:  "Erases the record, writes the update request, checks it and restarts the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		s, err := newSession(t)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return s.Run(ctx)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Write the default record",
	Long:  "Erases the record and writes the default one with no update requested",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		s, err := newSession(t)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		if err := s.Restore(ctx); err != nil {
			return err
		}
		r, err := record.Load(t.drv, s.Address())
		if err != nil {
			return err
		}
		fmt.Println(r)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored record",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		addr, err := recordAddress(t.drv)
		if err != nil {
			return err
		}

		r, err := record.Load(t.drv, addr)
		var ce *record.ChecksumError
		if err != nil && !errors.As(err, &ce) {
			return err
		}

		fmt.Printf("0x%08x: % x\n", addr, r.Bytes())
		fmt.Println(r)
		if ce != nil {
			return ce
		}
		fmt.Println("valid")
		return nil
	},
}

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Write protect the record page",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		addr, err := recordAddress(t.drv)
		if err != nil {
			return err
		}

		page := t.drv.Geometry().Page(addr)
		return t.drv.SetWriteProtection([]uint32{page}, !unprotect)
	},
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the chip ID reported by the bootloader",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget()
		if err != nil {
			return err
		}
		defer t.close()

		if t.mcu == nil {
			return errors.New("id needs the mcu backend")
		}
		id, err := t.mcu.Identify()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}
