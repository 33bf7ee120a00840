// Package presence expires participants that stopped sending heartbeats.
package presence

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/vultisig/vultisig-chatroom/chat"
	"github.com/vultisig/vultisig-chatroom/model"
	"github.com/vultisig/vultisig-chatroom/storage"
)

// Logger is the subset of the gommon/echo logger the sweeper writes to.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type Sweeper struct {
	store    storage.Storage
	log      Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewSweeper returns a sweeper removing, every interval, participants not seen for longer than timeout.
func NewSweeper(store storage.Storage, log Logger, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		log:      log,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Infof("presence sweep every %s, inactivity timeout %s", s.interval, s.timeout)
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("presence sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Errorf("fail to sweep inactive participants, err: %s", err)
			}
		}
	}
}

// Sweep removes every stale participant and broadcasts a leave notice for each one it removed.
// It returns the names removed.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-s.timeout).UnixMilli()
	participants, err := s.store.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	stale := lo.Filter(participants, func(p model.Participant, _ int) bool {
		return p.IsStale(cutoff)
	})
	removed := make([]string, 0, len(stale))
	for _, p := range stale {
		// a heartbeat may land between the listing and the removal
		ok, err := s.store.RemoveStaleParticipant(ctx, p.Name, cutoff)
		if err != nil {
			return removed, err
		}
		if !ok {
			continue
		}
		removed = append(removed, p.Name)
		if err := s.store.InsertMessage(ctx, chat.StatusMessage(p.Name, chat.LeaveNotice, now)); err != nil {
			return removed, err
		}
		s.log.Debugf("participant %s left after inactivity", p.Name)
	}
	return removed, nil
}
