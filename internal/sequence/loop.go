package sequence

import (
	"context"
	"time"

	"github.com/soochol/procflow/internal/events"
)

// SetMode cascades mode to every child, then starts the run loop when
// entering RUN or TEST and stops it when entering PROGRAM. Switching between
// RUN and TEST keeps the running loop. Leaving RUN/TEST waits for the loop
// to finish its current Execute, so it must not be called synchronously from
// a processor running inside that loop.
//
// Only a top-level sequence runs a loop; a nested sequence is executed by
// its parent.
func (s *Sequence) SetMode(mode Mode) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	prev := s.Mode()
	if prev == mode {
		return
	}
	s.mode.Store(int32(mode))

	for _, p := range s.Processors() {
		p.SetMode(mode)
	}

	switch {
	case mode.Loops() && s.Parent() == nil:
		s.startLoop()
	case !mode.Loops():
		s.stopLoop()
	}

	s.logger.Info("sequence mode changed", "sequence", s.Name(), "from", prev, "to", mode)
	s.bus.Publish(events.New(events.ModeChanged, s.ID().String(), "",
		map[string]any{"from": prev.String(), "to": mode.String()}))
	s.notifyModeChanged(mode)
}

// Running reports whether the run loop goroutine is alive.
func (s *Sequence) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.loopDone != nil
}

// Close returns the sequence to PROGRAM mode and joins the run loop.
func (s *Sequence) Close() error {
	s.SetMode(ModeProgram)
	s.stopLoop()
	return nil
}

func (s *Sequence) startLoop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopDone != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.loopStop, s.loopDone = stop, done
	s.loopStarts.Add(1)
	go s.loop(stop, done)
}

func (s *Sequence) stopLoop() {
	s.loopMu.Lock()
	stop, done := s.loopStop, s.loopDone
	s.loopStop, s.loopDone = nil, nil
	s.loopMu.Unlock()
	if done == nil {
		return
	}
	close(stop)
	<-done
}

// loop executes the sequence until the mode leaves RUN/TEST or stop is
// closed. Both are checked between iterations only; an Execute in flight
// always completes.
func (s *Sequence) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	s.logger.Debug("run loop started", "sequence", s.Name())
	defer s.logger.Debug("run loop stopped", "sequence", s.Name())

	for s.Mode().Loops() {
		select {
		case <-stop:
			return
		default:
		}

		if _, err := s.Execute(context.Background(), nil); err != nil {
			s.logger.Debug("loop iteration failed", "sequence", s.Name(), "err", err)
		}

		if s.loopInterval > 0 {
			t := time.NewTimer(s.loopInterval)
			select {
			case <-stop:
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}
