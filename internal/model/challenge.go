package model

import "time"

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

type ChallengeDefinition struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Type         string     `json:"type,omitempty"`
	DurationDays int        `json:"duration_days"`
	Difficulty   Difficulty `json:"difficulty"`
	GoalTag      string     `json:"goal_tag"`
	RewardPoints int        `json:"reward_points"`
	Tutorial     string     `json:"tutorial,omitempty"`
}

// Enrollment is one user's membership in one challenge. Taps and
// ProgressPercent are a projection of the check-in ledger, rewritten on
// every accepted check-in.
type Enrollment struct {
	ID              int64      `json:"id"`
	UserID          string     `json:"user_id"`
	ChallengeID     string     `json:"challenge_id"`
	JoinedAt        time.Time  `json:"joined_at"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at"`
	RewardGranted   bool       `json:"reward_granted"`
	Taps            int        `json:"taps"`
	ProgressPercent int        `json:"progress_percent"`
}

type CheckIn struct {
	ID           int64     `json:"id"`
	EnrollmentID int64     `json:"enrollment_id"`
	DayKey       string    `json:"day_key"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

type RewardGrant struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ChallengeID  string    `json:"challenge_id"`
	EnrollmentID int64     `json:"enrollment_id"`
	Points       int       `json:"points"`
	GrantedAt    time.Time `json:"granted_at"`
}

// ActivityEvent records one accepted check-in. Title and DurationDays are
// copied from the catalog at event time.
type ActivityEvent struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	ChallengeID     string    `json:"challenge_id"`
	Title           string    `json:"title"`
	DayKey          string    `json:"day_key"`
	Taps            int       `json:"taps"`
	DurationDays    int       `json:"duration_days"`
	ProgressPercent int       `json:"progress_percent"`
	CreatedAt       time.Time `json:"created_at"`
}
