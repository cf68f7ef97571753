package trigger

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synthread/go-handoff/flash"
	"github.com/synthread/go-handoff/handoff"
	"github.com/synthread/go-handoff/record"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestDetector(t *testing.T) {
	tests := []struct {
		name    string
		stream  []byte
		matches int
	}{
		{"exact", []byte{0x60, 0xf1, 0x55, 0x55}, 1},
		{"leading noise", []byte{0x00, 0x60, 0x60, 0xf1, 0x55, 0x55}, 1},
		{"partial", []byte{0x60, 0xf1, 0x55}, 0},
		{"wrong order", []byte{0xf1, 0x60, 0x55, 0x55}, 0},
		{"back to back", []byte{0x60, 0xf1, 0x55, 0x55, 0x60, 0xf1, 0x55, 0x55}, 2},
		{"broken up", []byte{0x60, 0xf1, 0x00, 0x55, 0x55}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(Sequence)
			matches := 0
			for _, b := range tt.stream {
				if d.Feed(b) {
					matches++
				}
			}
			if matches != tt.matches {
				t.Errorf("matches = %d, want %d", matches, tt.matches)
			}
		})
	}
}

func TestListenerQuietPeriod(t *testing.T) {
	stream := bytes.Repeat(Sequence, 3)

	calls := 0
	l := &Listener{
		Source: bytes.NewReader(stream),
		Handler: func(ctx context.Context) error {
			calls++
			return nil
		},
		Quiet: time.Hour,
		Log:   quietLog(),
	}

	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestListenerFiresAfterQuietPeriod(t *testing.T) {
	stream := append(append([]byte{0x01, 0x02}, Sequence...), Sequence...)

	calls := 0
	l := &Listener{
		Source: bytes.NewReader(stream),
		Handler: func(ctx context.Context) error {
			calls++
			time.Sleep(5 * time.Millisecond)
			return nil
		},
		Quiet: time.Millisecond,
		Log:   quietLog(),
	}

	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}

func TestListenerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &Listener{
		Source:  bytes.NewReader(Sequence),
		Handler: func(ctx context.Context) error { return nil },
		Log:     quietLog(),
	}
	if err := l.Listen(ctx); err != context.Canceled {
		t.Errorf("Listen() error = %v, want %v", err, context.Canceled)
	}
}

func TestListenerDrivesHandoff(t *testing.T) {
	g := flash.STM32G031x8
	drv, err := flash.NewDriver(flash.NewSimMemory(g), g)
	if err != nil {
		t.Fatal(err)
	}

	restarts := 0
	s, err := handoff.New(drv, &handoff.Config{
		Watchdog: handoff.WatchdogFunc(func() error {
			restarts++
			return nil
		}),
		Log: quietLog(),
	})
	if err != nil {
		t.Fatal(err)
	}

	l := &Listener{
		Source:  bytes.NewReader(append([]byte("hello\r\n"), Sequence...)),
		Handler: s.Run,
		Log:     quietLog(),
	}
	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	got, err := record.Load(drv, s.Address())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.UpdateFlag != record.Requested {
		t.Errorf("UpdateFlag = %s, want %s", got.UpdateFlag, record.Requested)
	}
	if restarts != 1 {
		t.Errorf("restarts = %d, want 1", restarts)
	}
}
