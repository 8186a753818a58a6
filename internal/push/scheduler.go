package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/stride/internal/challenge"
	"github.com/dukerupert/stride/internal/store"
)

const kindDailyReminder = "daily_reminder"

// Scheduler sends one evening reminder per user per day when they still
// have an active challenge without a check-in for that day.
type Scheduler struct {
	mu       sync.RWMutex
	notifier *Notifier
	push     *store.PushStore
	loc      *time.Location
	hour     int
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a reminder scheduler firing during hour (0-23) in loc.
func NewScheduler(notifier *Notifier, pushStore *store.PushStore, loc *time.Location, hour int, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		notifier: notifier,
		push:     pushStore,
		loc:      loc,
		hour:     hour,
		interval: 5 * time.Minute,
		now:      time.Now,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// tick sends reminders if the local hour matches. It returns how many
// users were notified.
func (s *Scheduler) tick(ctx context.Context) int {
	now := s.now().In(s.loc)
	if now.Hour() != s.hour {
		return 0
	}
	dayKey := challenge.DayKey(now, s.loc)

	users, err := s.push.ListReminderTargets(ctx, dayKey)
	if err != nil {
		s.logger.Error("list reminder targets", "error", err)
		return 0
	}

	notified := 0
	for _, userID := range users {
		claimed, err := s.push.RecordSent(ctx, userID, kindDailyReminder, dayKey)
		if err != nil {
			s.logger.Error("record reminder", "user", userID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		sent, err := s.notifier.NotifyUser(ctx, userID, Payload{
			Title: "Keep your streak going",
			Body:  "You haven't checked in today. One tap keeps your challenge on track.",
			URL:   "/dashboard",
			Tag:   "daily-reminder",
		})
		if err != nil {
			s.logger.Error("send reminder", "user", userID, "error", err)
			continue
		}
		if sent > 0 {
			notified++
		}
	}
	if notified > 0 {
		s.logger.Info("daily reminders sent", "day", dayKey, "users", notified)
	}
	return notified
}
