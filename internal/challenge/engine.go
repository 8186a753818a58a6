package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stride/internal/catalog"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

var (
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrStorage          = errors.New("storage failure")
)

const (
	// FeedCapacity bounds each user's activity feed.
	FeedCapacity = 50
	// SummaryEvents is how many feed entries the dashboard summary carries.
	SummaryEvents = 20
)

// Rejection names why a check-in was not accepted. The zero value means
// the check-in is allowed.
type Rejection string

const (
	RejectNotEnrolled      Rejection = "not_enrolled"
	RejectAlreadyCheckedIn Rejection = "already_checked_in_today"
	RejectAlreadyCompleted Rejection = "already_completed"
)

// Recorder receives engine events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Joined(challengeID string)
	CheckIn(challengeID string, outcome string)
	Completed(challengeID string, points int)
}

type Outcome struct {
	Accepted bool      `json:"accepted"`
	Reason   Rejection `json:"reason,omitempty"`
	Taps     int       `json:"taps"`
	DayKey   string    `json:"day_key"`
}

// TapResult is the full effect of one TapToday call. Enrollment is nil
// when the user is not enrolled; Event is nil unless the tap was accepted.
type TapResult struct {
	Outcome      Outcome              `json:"outcome"`
	Enrollment   *model.Enrollment    `json:"enrollment,omitempty"`
	Progress     Progress             `json:"progress"`
	Event        *model.ActivityEvent `json:"event,omitempty"`
	Completed    bool                 `json:"completed"`
	RewardPoints int                  `json:"reward_points"`
}

// ProgressView is the read-side projection shown next to a challenge.
type ProgressView struct {
	ChallengeID   string    `json:"challenge_id"`
	Enrolled      bool      `json:"enrolled"`
	Taps          int       `json:"taps"`
	DurationDays  int       `json:"duration_days"`
	DaysRemaining int       `json:"days_remaining"`
	Progress      Progress  `json:"progress"`
	CanCheckIn    bool      `json:"can_check_in"`
	Reason        Rejection `json:"reason,omitempty"`
	DayKey        string    `json:"day_key"`
}

type Summary struct {
	Joined      int                   `json:"joined"`
	Active      int                   `json:"active"`
	Completed   int                   `json:"completed"`
	TotalPoints int                   `json:"total_points"`
	Recent      []model.ActivityEvent `json:"recent"`
}

// Engine coordinates the enrollment registry, check-in ledger, reward
// ledger and activity feed. Every mutation runs inside one store
// transaction.
type Engine struct {
	catalog  *catalog.Catalog
	store    *store.ChallengeStore
	loc      *time.Location
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger
}

func NewEngine(cat *catalog.Catalog, cs *store.ChallengeStore, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		catalog: cat,
		store:   cs,
		loc:     loc,
		now:     time.Now,
		logger:  logger,
	}
}

// SetRecorder attaches a metrics recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Now returns the current time in the engine's default location.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Join enrolls userID in challengeID. Joining an existing pair returns the
// stored enrollment unchanged with created == false.
func (e *Engine) Join(ctx context.Context, userID, challengeID string) (*model.Enrollment, bool, error) {
	if _, ok := e.catalog.Get(challengeID); !ok {
		return nil, false, ErrUnknownChallenge
	}

	var (
		enrollment *model.Enrollment
		created    bool
	)
	err := e.store.InTx(ctx, func(tx *store.ChallengeTx) error {
		var err error
		enrollment, created, err = tx.CreateEnrollment(userID, challengeID, e.now())
		return err
	})
	if err != nil {
		return nil, false, storageErr("join", err)
	}

	if created {
		e.logger.Info("challenge joined", "user", userID, "challenge", challengeID)
		if e.recorder != nil {
			e.recorder.Joined(challengeID)
		}
	}
	return enrollment, created, nil
}

// List returns the user's enrollments in the order they were created.
func (e *Engine) List(ctx context.Context, userID string) ([]model.Enrollment, error) {
	list, err := e.store.ListEnrollments(ctx, userID)
	if err != nil {
		return nil, storageErr("list enrollments", err)
	}
	return list, nil
}

// Unenroll removes the enrollment and its ledger. It reports whether an
// enrollment existed. Granted rewards are kept.
func (e *Engine) Unenroll(ctx context.Context, userID, challengeID string) (bool, error) {
	var removed bool
	err := e.store.InTx(ctx, func(tx *store.ChallengeTx) error {
		en, err := tx.GetEnrollment(userID, challengeID)
		if err != nil || en == nil {
			return err
		}
		removed = true
		return tx.DeleteEnrollment(en.ID)
	})
	if err != nil {
		return false, storageErr("unenroll", err)
	}
	if removed {
		e.logger.Info("challenge left", "user", userID, "challenge", challengeID)
	}
	return removed, nil
}

// CanCheckIn reports whether a tap at now would be accepted, and if not,
// why.
func (e *Engine) CanCheckIn(ctx context.Context, userID, challengeID string, now time.Time) (bool, Rejection, error) {
	if _, ok := e.catalog.Get(challengeID); !ok {
		return false, "", ErrUnknownChallenge
	}

	en, err := e.store.GetEnrollment(ctx, userID, challengeID)
	if err != nil {
		return false, "", storageErr("get enrollment", err)
	}
	reason, err := e.rejection(ctx, en, DayKey(now, now.Location()))
	if err != nil {
		return false, "", err
	}
	return reason == "", reason, nil
}

func (e *Engine) rejection(ctx context.Context, en *model.Enrollment, dayKey string) (Rejection, error) {
	if en == nil {
		return RejectNotEnrolled, nil
	}
	if en.Completed {
		return RejectAlreadyCompleted, nil
	}
	has, err := e.store.HasCheckIn(ctx, en.ID, dayKey)
	if err != nil {
		return "", storageErr("check ledger", err)
	}
	if has {
		return RejectAlreadyCheckedIn, nil
	}
	return "", nil
}

// TapToday records a check-in for the local date of now. The day key is
// taken from now's location. Rejections are reported in the result and
// leave every ledger untouched.
func (e *Engine) TapToday(ctx context.Context, userID, challengeID string, now time.Time) (*TapResult, error) {
	def, ok := e.catalog.Get(challengeID)
	if !ok {
		return nil, ErrUnknownChallenge
	}
	dayKey := DayKey(now, now.Location())

	var res *TapResult
	err := e.store.InTx(ctx, func(tx *store.ChallengeTx) error {
		res = &TapResult{Outcome: Outcome{DayKey: dayKey}}

		en, err := tx.GetEnrollment(userID, challengeID)
		if err != nil {
			return err
		}
		if en == nil {
			res.Outcome.Reason = RejectNotEnrolled
			return nil
		}
		res.Enrollment = en
		res.Outcome.Taps = en.Taps
		res.Progress = ComputeProgress(en.Taps, def.DurationDays)
		if en.Completed {
			res.Outcome.Reason = RejectAlreadyCompleted
			return nil
		}

		inserted, err := tx.InsertCheckIn(en.ID, dayKey, now)
		if err != nil {
			return err
		}
		if !inserted {
			res.Outcome.Reason = RejectAlreadyCheckedIn
			return nil
		}

		taps, err := tx.CountCheckIns(en.ID)
		if err != nil {
			return err
		}
		progress := ComputeProgress(taps, def.DurationDays)
		if err := tx.UpdateProjection(en.ID, taps, progress.Percent); err != nil {
			return err
		}
		en.Taps = taps
		en.ProgressPercent = progress.Percent

		if progress.IsComplete {
			flipped, err := tx.MarkCompleted(en.ID, now)
			if err != nil {
				return err
			}
			if flipped {
				completedAt := now.UTC()
				en.Completed = true
				en.CompletedAt = &completedAt
				en.RewardGranted = true
				res.Completed = true

				granted, err := tx.GrantReward(en, def.RewardPoints, now)
				if err != nil {
					return err
				}
				if granted {
					res.RewardPoints = def.RewardPoints
				}
			}
		}

		ev, err := tx.AppendActivity(model.ActivityEvent{
			UserID:          userID,
			ChallengeID:     challengeID,
			Title:           def.Title,
			DayKey:          dayKey,
			Taps:            taps,
			DurationDays:    def.DurationDays,
			ProgressPercent: progress.Percent,
			CreatedAt:       now,
		}, FeedCapacity)
		if err != nil {
			return err
		}

		res.Event = ev
		res.Progress = progress
		res.Outcome.Accepted = true
		res.Outcome.Taps = taps
		return nil
	})
	if err != nil {
		return nil, storageErr("tap today", err)
	}

	e.observeTap(userID, challengeID, res)
	return res, nil
}

func (e *Engine) observeTap(userID, challengeID string, res *TapResult) {
	outcome := "accepted"
	if !res.Outcome.Accepted {
		outcome = string(res.Outcome.Reason)
	}
	if e.recorder != nil {
		e.recorder.CheckIn(challengeID, outcome)
		if res.Completed {
			e.recorder.Completed(challengeID, res.RewardPoints)
		}
	}

	switch {
	case res.Completed:
		e.logger.Info("challenge completed",
			"user", userID, "challenge", challengeID, "points", res.RewardPoints)
	case res.Outcome.Accepted:
		e.logger.Debug("check-in accepted",
			"user", userID, "challenge", challengeID, "day", res.Outcome.DayKey, "taps", res.Outcome.Taps)
	default:
		e.logger.Debug("check-in rejected",
			"user", userID, "challenge", challengeID, "reason", res.Outcome.Reason)
	}
}

// Progress returns the user's standing in a challenge as of now.
func (e *Engine) Progress(ctx context.Context, userID, challengeID string, now time.Time) (*ProgressView, error) {
	def, ok := e.catalog.Get(challengeID)
	if !ok {
		return nil, ErrUnknownChallenge
	}

	en, err := e.store.GetEnrollment(ctx, userID, challengeID)
	if err != nil {
		return nil, storageErr("get enrollment", err)
	}

	dayKey := DayKey(now, now.Location())
	view := &ProgressView{
		ChallengeID:   challengeID,
		DurationDays:  def.DurationDays,
		DaysRemaining: def.DurationDays,
		DayKey:        dayKey,
	}
	reason, err := e.rejection(ctx, en, dayKey)
	if err != nil {
		return nil, err
	}
	view.Reason = reason
	view.CanCheckIn = reason == ""

	if en != nil {
		view.Enrolled = true
		view.Taps = en.Taps
		view.DaysRemaining = DaysRemaining(en.Taps, def.DurationDays)
		view.Progress = ComputeProgress(en.Taps, def.DurationDays)
	}
	return view, nil
}

func (e *Engine) TotalPoints(ctx context.Context, userID string) (int, error) {
	total, err := e.store.TotalPoints(ctx, userID)
	if err != nil {
		return 0, storageErr("total points", err)
	}
	return total, nil
}

// Recent returns up to n feed events, newest first. n is clamped to
// [1, FeedCapacity].
func (e *Engine) Recent(ctx context.Context, userID string, n int) ([]model.ActivityEvent, error) {
	n = min(max(n, 1), FeedCapacity)
	events, err := e.store.RecentActivity(ctx, userID, n)
	if err != nil {
		return nil, storageErr("recent activity", err)
	}
	return events, nil
}

// Summary aggregates enrollment counts, points and recent activity for the
// dashboard.
func (e *Engine) Summary(ctx context.Context, userID string) (*Summary, error) {
	list, err := e.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := e.TotalPoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := e.Recent(ctx, userID, SummaryEvents)
	if err != nil {
		return nil, err
	}

	s := &Summary{Joined: len(list), TotalPoints: total, Recent: recent}
	for _, en := range list {
		if en.Completed {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s, nil
}
