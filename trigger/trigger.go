// Package trigger watches a byte stream, usually the application's console
// UART, for the command that starts an update handoff.
package trigger

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CmdIAP is the first byte of every update agent command
const CmdIAP = 0x60

// Sequence is the command that requests an update
var Sequence = []byte{CmdIAP, 0xf1, 0x55, 0x55}

// DefaultQuiet is how long matches are ignored after one fires
var DefaultQuiet = 20 * time.Millisecond

// Detector matches a fixed sequence against a stream fed one byte at a time
type Detector struct {
	seq    []byte
	window []byte
}

// NewDetector returns a detector for seq
func NewDetector(seq []byte) *Detector {
	return &Detector{
		seq:    append([]byte(nil), seq...),
		window: make([]byte, 0, len(seq)),
	}
}

// Feed adds b to the stream and reports whether the stream now ends with the
// sequence. A match clears the window so overlapping bytes are not reused.
func (d *Detector) Feed(b byte) bool {
	if len(d.seq) == 0 {
		return false
	}
	if len(d.window) == len(d.seq) {
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	d.window = append(d.window, b)

	if bytes.Equal(d.window, d.seq) {
		d.Reset()
		return true
	}
	return false
}

// Reset forgets any partial match
func (d *Detector) Reset() {
	d.window = d.window[:0]
}

// Handler is invoked once per recognized command
type Handler func(ctx context.Context) error

// Listener reads Source and calls Handler whenever the sequence arrives.
// Handler runs on the listening goroutine, so a second command cannot start
// a second handoff while one is running.
type Listener struct {
	Source  io.Reader
	Handler Handler

	// Sequence to match; trigger.Sequence when nil
	Sequence []byte
	// Quiet ignores matches arriving this soon after the last invocation
	Quiet time.Duration

	Log *logrus.Entry
}

// Listen runs until ctx is done or Source returns an error. io.EOF ends it
// without error.
func (l *Listener) Listen(ctx context.Context) error {
	if l.Source == nil || l.Handler == nil {
		return errors.New("listener needs a source and a handler")
	}

	seq := l.Sequence
	if seq == nil {
		seq = Sequence
	}
	quiet := l.Quiet
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	log := l.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	det := NewDetector(seq)
	buf := make([]byte, 64)
	var last time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := l.Source.Read(buf)
		if n > 0 {
			log.Debugf("trigger rx: %x", buf[:n])
		}

		for _, b := range buf[:n] {
			if !det.Feed(b) {
				continue
			}

			now := time.Now()
			if !last.IsZero() && now.Sub(last) < quiet {
				log.Debug("command ignored inside quiet period")
				continue
			}
			last = now

			log.Info("update command received")
			if herr := l.Handler(ctx); herr != nil {
				log.WithError(herr).Warn("update command failed")
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "could not read command")
		}
	}
}
