// Package handoff drives the sequence that asks the next boot to stay in the
// update agent: read the stored record, erase it, write the request record,
// check it reads back sealed, then restart through the watchdog.
//
// Every step is retried until it succeeds. The only ways out of Run are
// success, which arms the watchdog, and cancelling the context.
package handoff

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/synthread/go-handoff/crc8"
	"github.com/synthread/go-handoff/flash"
	"github.com/synthread/go-handoff/record"
)

// Status lines written to Config.Status. The application and update agent
// print the same strings on their console.
const (
	StatusEraseOK        = "ERASE ok"
	StatusChecksumFailed = "CRC Erro !"
	StatusEnterUpdate    = "into bootloader"
)

var ErrBusy = errors.New("handoff already in progress")

// State is a step of the handoff sequence
type State int

const (
	StateRead State = iota
	StateErase
	StateWrite
	StateCheck
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateRead:
		return "read"
	case StateErase:
		return "erase"
	case StateWrite:
		return "write"
	case StateCheck:
		return "check"
	case StateEnd:
		return "end"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Watchdog restarts the device once the record is in place
type Watchdog interface {
	Arm() error
}

// WatchdogFunc adapts a function to a Watchdog
type WatchdogFunc func() error

func (f WatchdogFunc) Arm() error { return f() }

// Config defines where the record lives and how the session reports
type Config struct {
	// Address of the record; the last page of the user area when zero
	Address uint32
	// Identity stamped into both records; record.DefaultIdentity when empty
	Identity record.Identity
	// Status receives one line per status message
	Status io.Writer
	// Watchdog is armed when the sequence completes
	Watchdog Watchdog
	// RetryDelay is slept between attempts of a failing step
	RetryDelay time.Duration
	// OnTransition is called after every state change
	OnTransition func(from, to State)

	Log *logrus.Entry
}

// Session owns the state of one handoff: where in the sequence it is, the
// record last observed in flash and the two records it may write.
type Session struct {
	drv *flash.Driver
	cfg Config
	log *logrus.Entry

	defaultRecord record.Record
	requestRecord record.Record

	mu       sync.Mutex
	state    State
	observed []byte

	running atomic.Bool
}

// New creates a session writing through drv
func New(drv *flash.Driver, c *Config) (*Session, error) {
	if drv == nil {
		return nil, errors.New("driver must not be nil")
	}
	if c == nil {
		c = &Config{}
	}
	cfg := *c

	if cfg.Address == 0 {
		cfg.Address = drv.Geometry().LastPage()
	}
	if cfg.Identity == (record.Identity{}) {
		cfg.Identity = record.DefaultIdentity
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	g := drv.Geometry()
	if !g.Contains(cfg.Address, record.Size) {
		return nil, errors.Wrapf(flash.ErrOutOfRange, "record address 0x%08x", cfg.Address)
	}
	// the record page is erased on every run
	if (cfg.Address-g.Base)%g.PageSize != 0 {
		return nil, errors.Wrapf(flash.ErrMisaligned, "record address 0x%08x is not on a page boundary", cfg.Address)
	}
	if cfg.Status == nil {
		cfg.Status = io.Discard
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	log := cfg.Log.WithField("addr", fmt.Sprintf("0x%08x", cfg.Address))
	if cfg.Watchdog == nil {
		cfg.Watchdog = WatchdogFunc(func() error {
			log.Warn("no watchdog configured, restart skipped")
			return nil
		})
	}

	crc8.Init()

	return &Session{
		drv:           drv,
		cfg:           cfg,
		log:           log,
		defaultRecord: record.Default(cfg.Identity),
		requestRecord: record.Request(cfg.Identity),
		state:         StateRead,
	}, nil
}

// Address returns where the record is stored
func (s *Session) Address() uint32 {
	return s.cfg.Address
}

// DefaultRecord returns the resting record written by recovery
func (s *Session) DefaultRecord() record.Record {
	return s.defaultRecord
}

// RequestRecord returns the record the sequence writes
func (s *Session) RequestRecord() record.Record {
	return s.requestRecord
}

// State returns the current step
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Observed returns the bytes the last Read step found in flash
func (s *Session) Observed() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.observed...)
}

// Run drives the sequence to completion, then writes StatusEnterUpdate,
// rewinds to StateRead and arms the watchdog. A Run or Restore already in
// progress makes it return ErrBusy straight away. If ctx is cancelled the
// session is rewound to StateRead and ctx.Err() is returned.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	s.log.Info("update handoff started")

	for s.State() != StateEnd {
		if err := ctx.Err(); err != nil {
			s.transition(StateRead)
			return err
		}

		before := s.State()
		s.step()

		// staying put or falling back are both retries
		if s.State() <= before {
			if err := s.backoff(ctx); err != nil {
				s.transition(StateRead)
				return err
			}
		}
	}

	s.status(StatusEnterUpdate)
	s.transition(StateRead)

	s.log.Info("update requested, arming watchdog")
	return errors.Wrap(s.cfg.Watchdog.Arm(), "could not arm watchdog")
}

// Restore erases the record and writes the default one in its place,
// retrying until it succeeds or ctx is cancelled. The update agent calls this
// once a new application is installed. A valid stored record keeps its
// firmware revision.
func (s *Session) Restore(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	r := s.defaultRecord
	if stored, err := record.Load(s.drv, s.cfg.Address); err == nil {
		r.FWRevision = stored.FWRevision
	} else {
		s.log.WithError(err).Debug("no stored firmware revision, using configured one")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.restore(r); err == nil {
			return nil
		}
		if err := s.backoff(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) backoff(ctx context.Context) error {
	if s.cfg.RetryDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	s.log.Debugf("handoff %s -> %s", from, to)
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}

func (s *Session) status(msg string) {
	if _, err := fmt.Fprintln(s.cfg.Status, msg); err != nil {
		s.log.WithError(err).Warn("could not write status")
	}
}
