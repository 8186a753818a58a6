package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/stride/internal/model"
)

func scanGrant(scanner interface{ Scan(...any) error }) (*model.RewardGrant, error) {
	var g model.RewardGrant
	err := scanner.Scan(&g.ID, &g.UserID, &g.ChallengeID, &g.EnrollmentID, &g.Points, &g.GrantedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

const grantCols = `id, user_id, challenge_id, enrollment_id, points, granted_at`

// GrantReward records a point award for an enrollment. At most one grant
// exists per enrollment; a second call returns false and changes nothing.
func (t *ChallengeTx) GrantReward(e *model.Enrollment, points int, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO reward_grants (user_id, challenge_id, enrollment_id, points, granted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(enrollment_id) DO NOTHING`,
		e.UserID, e.ChallengeID, e.ID, points, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert reward grant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// TotalPoints sums every grant the user has received.
func (s *ChallengeStore) TotalPoints(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM reward_grants WHERE user_id = ?`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum reward points: %w", err)
	}
	return total, nil
}

// ListGrants returns the user's grants, newest first.
func (s *ChallengeStore) ListGrants(ctx context.Context, userID string) ([]model.RewardGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+grantCols+` FROM reward_grants WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reward grants: %w", err)
	}
	defer rows.Close()

	var grants []model.RewardGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}
