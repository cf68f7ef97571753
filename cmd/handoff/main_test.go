package main

import (
	"path/filepath"
	"testing"

	"github.com/synthread/go-handoff/flash"
	"github.com/synthread/go-handoff/record"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func loadImage(t *testing.T, path string) record.Record {
	t.Helper()
	sm, err := flash.LoadImage(path, flash.STM32G031x8)
	if err != nil {
		t.Fatal(err)
	}
	drv, _ := flash.NewDriver(sm, flash.STM32G031x8)
	r, err := record.Load(drv, flash.STM32G031x8.LastPage())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return r
}

func TestRequestShowRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	if err := run(t, "show", "--image", path, "--log-level", "error"); err == nil {
		t.Error("show on an erased image succeeded")
	}

	if err := run(t, "request", "--image", path, "--log-level", "error"); err != nil {
		t.Fatalf("request error = %v", err)
	}
	if r := loadImage(t, path); r.UpdateFlag != record.Requested {
		t.Errorf("after request UpdateFlag = %s", r.UpdateFlag)
	}

	if err := run(t, "show", "--image", path, "--log-level", "error"); err != nil {
		t.Errorf("show error = %v", err)
	}

	if err := run(t, "restore", "--image", path, "--log-level", "error"); err != nil {
		t.Fatalf("restore error = %v", err)
	}
	if r := loadImage(t, path); r.UpdateFlag != record.NotRequested {
		t.Errorf("after restore UpdateFlag = %s", r.UpdateFlag)
	}
}

func TestRecordAddress(t *testing.T) {
	drv, _ := flash.NewDriver(flash.NewSimMemory(flash.STM32G031x8), flash.STM32G031x8)
	defer func() { address = "" }()

	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"", flash.STM32G031x8.LastPage(), false},
		{"0x0800f000", 0x0800f000, false},
		{"nope", 0, true},
	}

	for _, tt := range tests {
		address = tt.in
		got, err := recordAddress(drv)
		if (err != nil) != tt.wantErr {
			t.Errorf("recordAddress(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("recordAddress(%q) = 0x%08x, want 0x%08x", tt.in, got, tt.want)
		}
	}
}
