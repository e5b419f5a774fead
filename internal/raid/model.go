package raid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGoals indicates a launch request carried no goals or a
	// non-positive target.
	ErrInvalidGoals = errors.New("raid: invalid goals")
	// ErrUnknownDimension indicates a goal names a dimension the metrics
	// source does not report.
	ErrUnknownDimension = errors.New("raid: unknown dimension")
	// ErrNotFound indicates the raid record is absent, usually because it
	// already completed or expired.
	ErrNotFound = errors.New("raid: not found")
	// ErrAlreadyRunning indicates a raid is already live for the chat and
	// message pair.
	ErrAlreadyRunning = errors.New("raid: already running for this message")
)

// GoalSet maps engagement dimension names to positive target counts.
type GoalSet map[string]int64

// NewGoalSet validates raw goals against the dimensions the metrics source
// knows about. Goals must be non-empty and every target positive; unknown
// dimensions are rejected rather than passed through.
func NewGoalSet(raw map[string]int64, knownDimensions []string) (GoalSet, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one goal required", ErrInvalidGoals)
	}
	known := make(map[string]struct{}, len(knownDimensions))
	for _, dimension := range knownDimensions {
		known[dimension] = struct{}{}
	}
	goals := make(GoalSet, len(raw))
	for dimension, target := range raw {
		name := strings.TrimSpace(dimension)
		if name == "" {
			return nil, fmt.Errorf("%w: empty dimension name", ErrInvalidGoals)
		}
		if target <= 0 {
			return nil, fmt.Errorf("%w: %s target must be positive, got %d", ErrInvalidGoals, name, target)
		}
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDimension, name)
		}
		goals[name] = target
	}
	return goals, nil
}

// Raid is the persisted record of one live campaign. Goals and progress are
// JSON-encoded dimension counts; the unique chat+message index enforces at
// most one live raid per progress message.
type Raid struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ChatID           int64  `gorm:"column:chat_id;not null;uniqueIndex:idx_raids_chat_message,priority:1"`
	MessageID        int64  `gorm:"column:message_id;not null;uniqueIndex:idx_raids_chat_message,priority:2"`
	PostID           string `gorm:"column:post_id;size:190;not null"`
	GoalsJSON        string `gorm:"column:goals_json;type:text;not null"`
	ProgressJSON     string `gorm:"column:progress_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Raid) TableName() string {
	return "raids"
}

// Goals decodes the stored goal targets.
func (r Raid) Goals() (map[string]int64, error) {
	return decodeCounts(r.GoalsJSON)
}

// Progress decodes the stored progress counts.
func (r Raid) Progress() (map[string]int64, error) {
	return decodeCounts(r.ProgressJSON)
}

func encodeCounts(counts map[string]int64) (string, error) {
	encoded, err := json.Marshal(counts)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeCounts(encoded string) (map[string]int64, error) {
	counts := map[string]int64{}
	if encoded == "" {
		return counts, nil
	}
	if err := json.Unmarshal([]byte(encoded), &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// goalsMet reports whether every goal dimension reached its target.
func goalsMet(progress, goals map[string]int64) bool {
	for dimension, target := range goals {
		if progress[dimension] < target {
			return false
		}
	}
	return true
}
