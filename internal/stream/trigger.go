package stream

import (
	"context"

	"github.com/tphakala/audiorm/internal/arbiter"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

func (s *Stream) requireTrigger(op string) error {
	if s.traits.Trigger == arbiter.TriggerNone {
		return errors.Newf("%s needs a trigger stream, %s is %s", op, s.handle, s.kind).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// IsTrigger reports whether the stream takes part in capture profile
// arbitration.
func (s *Stream) IsTrigger() bool {
	return s.traits.Trigger != arbiter.TriggerNone
}

// StartBuffering marks a detection: the stream hands buffered audio to
// its client and power mode switches wait until it is done.
func (s *Stream) StartBuffering() error {
	if err := s.requireTrigger("buffering"); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.active {
		return errors.Newf("stream %s is not started", s.handle).
			Category(errors.CategoryState).
			Build()
	}
	s.buffering = true
	return nil
}

// BufferingDone ends buffering and lets the manager replay a deferred
// power mode switch.
func (s *Stream) BufferingDone(ctx context.Context) error {
	if err := s.requireTrigger("buffering"); err != nil {
		return err
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.stateMu.Lock()
	was := s.buffering
	s.buffering = false
	s.stateMu.Unlock()
	if was {
		s.logger.Debug("buffering done")
		s.rm.OnBufferingDone(ctx)
	}
	return nil
}

// SetPowerMode asks for LPI (lowPower) or NLPI trigger capture.
func (s *Stream) SetPowerMode(ctx context.Context, lowPower bool) error {
	if err := s.requireTrigger("power mode"); err != nil {
		return err
	}
	s.logger.Debug("power mode requested", logger.Bool("low_power", lowPower))
	s.rm.RequestPowerMode(ctx, lowPower)
	return nil
}
