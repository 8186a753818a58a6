package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukerupert/stride/internal/database"
	"github.com/dukerupert/stride/internal/model"
)

func setupChallengeTestDB(t *testing.T) *ChallengeStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChallengeStore(db)
}

var day1 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func mustEnroll(t *testing.T, s *ChallengeStore, userID, challengeID string) *model.Enrollment {
	t.Helper()
	var e *model.Enrollment
	err := s.InTx(context.Background(), func(tx *ChallengeTx) error {
		var err error
		e, _, err = tx.CreateEnrollment(userID, challengeID, day1)
		return err
	})
	if err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	return e
}

func TestCreateEnrollmentIdempotent(t *testing.T) {
	s := setupChallengeTestDB(t)
	ctx := context.Background()

	var first, second *model.Enrollment
	var created1, created2 bool
	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		var err error
		first, created1, err = tx.CreateEnrollment("u1", "core7", day1)
		if err != nil {
			return err
		}
		second, created2, err = tx.CreateEnrollment("u1", "core7", day1.Add(time.Hour))
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	if !created1 {
		t.Error("first create should report created")
	}
	if created2 {
		t.Error("second create should not report created")
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %d vs %d", first.ID, second.ID)
	}
	if !first.JoinedAt.Equal(second.JoinedAt) {
		t.Errorf("joined_at changed: %v vs %v", first.JoinedAt, second.JoinedAt)
	}
	if first.Completed || first.CompletedAt != nil || first.Taps != 0 {
		t.Errorf("new enrollment not pristine: %+v", first)
	}
}

func TestGetEnrollmentNotFound(t *testing.T) {
	s := setupChallengeTestDB(t)

	e, err := s.GetEnrollment(context.Background(), "nobody", "core7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e != nil {
		t.Error("expected nil for missing enrollment")
	}
}

func TestListEnrollmentsInsertionOrder(t *testing.T) {
	s := setupChallengeTestDB(t)
	mustEnroll(t, s, "u1", "squat15")
	mustEnroll(t, s, "u1", "core7")
	mustEnroll(t, s, "u2", "plank10")
	mustEnroll(t, s, "u1", "hiit14")

	list, err := s.ListEnrollments(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"squat15", "core7", "hiit14"}
	if len(list) != len(want) {
		t.Fatalf("len = %d, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ChallengeID != id {
			t.Errorf("list[%d] = %q, want %q", i, list[i].ChallengeID, id)
		}
	}
}

func TestInsertCheckInRejectsDuplicateDay(t *testing.T) {
	s := setupChallengeTestDB(t)
	e := mustEnroll(t, s, "u1", "core7")
	ctx := context.Background()

	var ok1, ok2, ok3 bool
	var count int
	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		var err error
		if ok1, err = tx.InsertCheckIn(e.ID, "2025-03-01", day1); err != nil {
			return err
		}
		if ok2, err = tx.InsertCheckIn(e.ID, "2025-03-01", day1.Add(8*time.Hour)); err != nil {
			return err
		}
		if ok3, err = tx.InsertCheckIn(e.ID, "2025-03-02", day1.Add(24*time.Hour)); err != nil {
			return err
		}
		count, err = tx.CountCheckIns(e.ID)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	if !ok1 || ok2 || !ok3 {
		t.Errorf("inserted = %v, %v, %v; want true, false, true", ok1, ok2, ok3)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	keys, err := s.ListDayKeys(ctx, e.ID)
	if err != nil {
		t.Fatalf("list day keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "2025-03-01" || keys[1] != "2025-03-02" {
		t.Errorf("keys = %v", keys)
	}

	has, err := s.HasCheckIn(ctx, e.ID, "2025-03-02")
	if err != nil {
		t.Fatalf("has check-in: %v", err)
	}
	if !has {
		t.Error("expected 2025-03-02 in ledger")
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := setupChallengeTestDB(t)
	e := mustEnroll(t, s, "u1", "core7")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		if _, err := tx.InsertCheckIn(e.ID, "2025-03-01", day1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	has, err := s.HasCheckIn(ctx, e.ID, "2025-03-01")
	if err != nil {
		t.Fatalf("has check-in: %v", err)
	}
	if has {
		t.Error("check-in survived rollback")
	}
}

func TestMarkCompletedOnce(t *testing.T) {
	s := setupChallengeTestDB(t)
	e := mustEnroll(t, s, "u1", "core7")
	ctx := context.Background()

	var flipped1, flipped2 bool
	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		var err error
		if flipped1, err = tx.MarkCompleted(e.ID, day1); err != nil {
			return err
		}
		flipped2, err = tx.MarkCompleted(e.ID, day1.Add(time.Hour))
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !flipped1 || flipped2 {
		t.Errorf("flipped = %v, %v; want true, false", flipped1, flipped2)
	}

	got, err := s.GetEnrollment(ctx, "u1", "core7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Completed || !got.RewardGranted {
		t.Errorf("completed = %v, reward_granted = %v", got.Completed, got.RewardGranted)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(day1) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, day1)
	}
}

func TestGrantRewardOncePerEnrollment(t *testing.T) {
	s := setupChallengeTestDB(t)
	e := mustEnroll(t, s, "u1", "core7")
	other := mustEnroll(t, s, "u1", "plank10")
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		ok, err := tx.GrantReward(e, 100, day1)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("first grant should succeed")
		}
		ok, err = tx.GrantReward(e, 100, day1)
		if err != nil {
			return err
		}
		if ok {
			t.Error("second grant should be ignored")
		}
		_, err = tx.GrantReward(other, 40, day1)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	total, err := s.TotalPoints(ctx, "u1")
	if err != nil {
		t.Fatalf("total points: %v", err)
	}
	if total != 140 {
		t.Errorf("total = %d, want 140", total)
	}

	grants, err := s.ListGrants(ctx, "u1")
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants = %d, want 2", len(grants))
	}
	if grants[0].ChallengeID != "plank10" {
		t.Errorf("newest grant = %q, want plank10", grants[0].ChallengeID)
	}
}

func TestTotalPointsNoGrants(t *testing.T) {
	s := setupChallengeTestDB(t)

	total, err := s.TotalPoints(context.Background(), "u1")
	if err != nil {
		t.Fatalf("total points: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestDeleteEnrollmentKeepsGrants(t *testing.T) {
	s := setupChallengeTestDB(t)
	e := mustEnroll(t, s, "u1", "core7")
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		if _, err := tx.InsertCheckIn(e.ID, "2025-03-01", day1); err != nil {
			return err
		}
		if _, err := tx.GrantReward(e, 100, day1); err != nil {
			return err
		}
		return tx.DeleteEnrollment(e.ID)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	got, err := s.GetEnrollment(ctx, "u1", "core7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("enrollment survived delete")
	}
	keys, err := s.ListDayKeys(ctx, e.ID)
	if err != nil {
		t.Fatalf("list day keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("ledger not cleared: %v", keys)
	}
	total, _ := s.TotalPoints(ctx, "u1")
	if total != 100 {
		t.Errorf("total = %d, want 100", total)
	}
}

func TestAppendActivityTrimsToCapacity(t *testing.T) {
	s := setupChallengeTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		err := s.InTx(ctx, func(tx *ChallengeTx) error {
			_, err := tx.AppendActivity(model.ActivityEvent{
				UserID:      "u1",
				ChallengeID: "core7",
				Title:       "7-Day Core Challenge",
				DayKey:      fmt.Sprintf("event-%02d", i),
				Taps:        i,
				CreatedAt:   day1,
			}, 50)
			return err
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Another user's feed is independent.
	err := s.InTx(ctx, func(tx *ChallengeTx) error {
		_, err := tx.AppendActivity(model.ActivityEvent{UserID: "u2", ChallengeID: "core7", DayKey: "x", CreatedAt: day1}, 50)
		return err
	})
	if err != nil {
		t.Fatalf("append u2: %v", err)
	}

	events, err := s.RecentActivity(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 50 {
		t.Fatalf("len = %d, want 50", len(events))
	}
	if events[0].Taps != 60 {
		t.Errorf("newest taps = %d, want 60", events[0].Taps)
	}
	if events[49].Taps != 11 {
		t.Errorf("oldest taps = %d, want 11", events[49].Taps)
	}

	others, err := s.RecentActivity(ctx, "u2", 50)
	if err != nil {
		t.Fatalf("recent u2: %v", err)
	}
	if len(others) != 1 {
		t.Errorf("u2 events = %d, want 1", len(others))
	}
}
