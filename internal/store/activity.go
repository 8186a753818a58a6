package store

import (
	"context"
	"fmt"

	"github.com/dukerupert/stride/internal/model"
)

func scanActivity(scanner interface{ Scan(...any) error }) (*model.ActivityEvent, error) {
	var a model.ActivityEvent
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.ChallengeID, &a.Title, &a.DayKey,
		&a.Taps, &a.DurationDays, &a.ProgressPercent, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const activityCols = `id, user_id, challenge_id, title, day_key, taps, duration_days, progress_percent, created_at`

// AppendActivity inserts ev at the head of the user's feed and evicts the
// oldest events beyond capacity.
func (t *ChallengeTx) AppendActivity(ev model.ActivityEvent, capacity int) (*model.ActivityEvent, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO activity_events (user_id, challenge_id, title, day_key, taps, duration_days, progress_percent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.ChallengeID, ev.Title, ev.DayKey, ev.Taps, ev.DurationDays, ev.ProgressPercent, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx,
		`DELETE FROM activity_events WHERE user_id = ? AND id NOT IN (
			SELECT id FROM activity_events WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`,
		ev.UserID, ev.UserID, capacity,
	)
	if err != nil {
		return nil, fmt.Errorf("trim activity: %w", err)
	}

	row := t.tx.QueryRowContext(t.ctx, `SELECT `+activityCols+` FROM activity_events WHERE id = ?`, id)
	stored, err := scanActivity(row)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return stored, nil
}

// RecentActivity returns up to n events, newest first.
func (s *ChallengeStore) RecentActivity(ctx context.Context, userID string, n int) ([]model.ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activityCols+` FROM activity_events WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	events := []model.ActivityEvent{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		events = append(events, *a)
	}
	return events, rows.Err()
}
