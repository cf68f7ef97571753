package handoff

import (
	"github.com/pkg/errors"
	"github.com/synthread/go-handoff/flash"
	"github.com/synthread/go-handoff/record"
)

// step runs the current state once. A failing step leaves the state as it
// is so the next call retries it, except for a write that left the page
// partly programmed, which goes back to StateErase.
func (s *Session) step() {
	switch state := s.State(); state {
	case StateRead:
		if err := s.readRecord(); err != nil {
			s.log.WithError(err).Warn("record read failed")
			return
		}
		s.transition(StateErase)

	case StateErase:
		if err := s.drv.Erase(s.cfg.Address); err != nil {
			s.log.WithError(err).Warn("record erase failed")
			return
		}
		s.status(StatusEraseOK)
		s.transition(StateWrite)

	case StateWrite:
		if err := s.writeRecord(s.requestRecord); err != nil {
			s.log.WithError(err).Warn("record write failed")
			if needsErase(err) {
				s.transition(StateErase)
			}
			return
		}
		s.transition(StateCheck)

	case StateCheck:
		if err := s.checkRecord(s.requestRecord); err != nil {
			var ce *record.ChecksumError
			if errors.As(err, &ce) {
				s.status(StatusChecksumFailed)
			}
			s.log.WithError(err).Warn("record check failed")
			return
		}
		s.transition(StateEnd)

	default:
		s.log.Errorf("unknown handoff state %s, restoring default record", state)
		if err := s.restore(s.defaultRecord); err != nil {
			s.log.WithError(err).Warn("default record restore failed")
			return
		}
		s.transition(StateRead)
	}
}

// readRecord keeps whatever is stored for the log. The sequence always
// erases and rewrites regardless of what it finds.
func (s *Session) readRecord() error {
	buf := make([]byte, record.Size)
	if err := s.drv.Read(s.cfg.Address, buf); err != nil {
		return err
	}

	s.mu.Lock()
	s.observed = buf
	s.mu.Unlock()

	if r, err := record.Parse(buf); err != nil {
		s.log.Debugf("no valid record stored: %v", err)
	} else {
		s.log.Debugf("stored record: %s", r)
	}
	return nil
}

// writeRecord seals r right before programming it
func (s *Session) writeRecord(r record.Record) error {
	return s.drv.Program(s.cfg.Address, r.Seal().Bytes())
}

// checkRecord reads the record back and recomputes its checksum. The stored
// checksum must match both the recomputed one and the one that was written.
func (s *Session) checkRecord(want record.Record) error {
	buf := make([]byte, record.Size)
	if err := s.drv.Read(s.cfg.Address, buf); err != nil {
		return err
	}

	got, err := record.Parse(buf)
	if err != nil {
		return err
	}

	sealed := want.Seal()
	if got.Checksum != sealed.Checksum {
		return &record.ChecksumError{Stored: got.Checksum, Computed: sealed.Checksum}
	}
	return nil
}

// needsErase reports whether a failed write left bytes that cannot be
// programmed again without erasing the page first
func needsErase(err error) bool {
	return flash.IsWriteError(err, flash.VerifyMismatch) || errors.Is(err, flash.ErrNotErased)
}

// restore erases the record page and writes r with no update requested
func (s *Session) restore(r record.Record) error {
	if err := s.drv.Erase(s.cfg.Address); err != nil {
		return err
	}
	return s.writeRecord(r)
}
