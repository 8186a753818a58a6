package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stride/internal/model"
)

// --- Enrollment methods ---

func scanEnrollment(scanner interface{ Scan(...any) error }) (*model.Enrollment, error) {
	var e model.Enrollment
	var completed, rewardGranted int
	var completedAt sql.NullTime

	err := scanner.Scan(
		&e.ID, &e.UserID, &e.ChallengeID, &e.JoinedAt,
		&completed, &completedAt, &rewardGranted,
		&e.Taps, &e.ProgressPercent,
	)
	if err != nil {
		return nil, err
	}

	e.Completed = completed != 0
	e.RewardGranted = rewardGranted != 0
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

const enrollmentCols = `id, user_id, challenge_id, joined_at, completed, completed_at, reward_granted, taps, progress_percent`

func getEnrollment(ctx context.Context, q querier, userID, challengeID string) (*model.Enrollment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+enrollmentCols+` FROM enrollments WHERE user_id = ? AND challenge_id = ?`,
		userID, challengeID,
	)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// GetEnrollment returns the user's enrollment in a challenge, or nil.
func (s *ChallengeStore) GetEnrollment(ctx context.Context, userID, challengeID string) (*model.Enrollment, error) {
	return getEnrollment(ctx, s.db, userID, challengeID)
}

// ListEnrollments returns a user's enrollments in the order they joined.
func (s *ChallengeStore) ListEnrollments(ctx context.Context, userID string) ([]model.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+enrollmentCols+` FROM enrollments WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func (t *ChallengeTx) GetEnrollment(userID, challengeID string) (*model.Enrollment, error) {
	return getEnrollment(t.ctx, t.tx, userID, challengeID)
}

// CreateEnrollment inserts an enrollment unless one already exists for the
// pair. It returns the stored enrollment and whether it was created.
func (t *ChallengeTx) CreateEnrollment(userID, challengeID string, joinedAt time.Time) (*model.Enrollment, bool, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO enrollments (user_id, challenge_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, challenge_id) DO NOTHING`,
		userID, challengeID, joinedAt.UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert enrollment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	e, err := t.GetEnrollment(userID, challengeID)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, fmt.Errorf("enrollment %s/%s vanished after insert", userID, challengeID)
	}
	return e, n > 0, nil
}

// UpdateProjection overwrites the cached progress columns.
func (t *ChallengeTx) UpdateProjection(id int64, taps, percent int) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE enrollments SET taps = ?, progress_percent = ? WHERE id = ?`,
		taps, percent, id,
	)
	if err != nil {
		return fmt.Errorf("update projection: %w", err)
	}
	return nil
}

// MarkCompleted flips completed and reward_granted for an enrollment that
// is not yet complete. It reports whether this call performed the flip.
func (t *ChallengeTx) MarkCompleted(id int64, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE enrollments SET completed = 1, completed_at = ?, reward_granted = 1
		 WHERE id = ? AND completed = 0`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteEnrollment removes an enrollment and its check-ins. Reward grants
// are left in place.
func (t *ChallengeTx) DeleteEnrollment(id int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM check_ins WHERE enrollment_id = ?`, id); err != nil {
		return fmt.Errorf("delete check-ins: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM enrollments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// --- Check-in ledger methods ---

// InsertCheckIn adds a day key to the enrollment's ledger. It returns false
// without error when the day key is already present.
func (t *ChallengeTx) InsertCheckIn(enrollmentID int64, dayKey string, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO check_ins (enrollment_id, day_key, checked_in_at) VALUES (?, ?, ?)
		 ON CONFLICT(enrollment_id, day_key) DO NOTHING`,
		enrollmentID, dayKey, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert check-in: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func hasCheckIn(ctx context.Context, q querier, enrollmentID int64, dayKey string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_ins WHERE enrollment_id = ? AND day_key = ?`,
		enrollmentID, dayKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check day key: %w", err)
	}
	return n > 0, nil
}

func (t *ChallengeTx) HasCheckIn(enrollmentID int64, dayKey string) (bool, error) {
	return hasCheckIn(t.ctx, t.tx, enrollmentID, dayKey)
}

// HasCheckIn reports whether dayKey is already in the enrollment's ledger.
func (s *ChallengeStore) HasCheckIn(ctx context.Context, enrollmentID int64, dayKey string) (bool, error) {
	return hasCheckIn(ctx, s.db, enrollmentID, dayKey)
}

// CountCheckIns returns the number of distinct days in the ledger.
func (t *ChallengeTx) CountCheckIns(enrollmentID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM check_ins WHERE enrollment_id = ?`, enrollmentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count check-ins: %w", err)
	}
	return n, nil
}

// ListDayKeys returns the ledger's day keys in ascending order.
func (s *ChallengeStore) ListDayKeys(ctx context.Context, enrollmentID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day_key FROM check_ins WHERE enrollment_id = ? ORDER BY day_key ASC`,
		enrollmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list day keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan day key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
