package reaction

import "errors"

var (
	// ErrNoReactions indicates a selection was requested for a message
	// nobody reacted to. It is a reported condition, not an empty success.
	ErrNoReactions = errors.New("reaction: no reactions recorded")
	// ErrInvalidParticipant indicates a reaction arrived without a usable
	// participant identifier.
	ErrInvalidParticipant = errors.New("reaction: invalid participant")
)

// Reaction is one append-only log entry: at most one row per message and
// participant. A repeat reaction overwrites the timestamp of the existing
// row instead of creating a duplicate.
type Reaction struct {
	MessageID        int64  `gorm:"column:message_id;primaryKey;not null;index:idx_reactions_message_time,priority:1"`
	ParticipantID    int64  `gorm:"column:participant_id;primaryKey;not null"`
	DisplayName      string `gorm:"column:display_name;size:190;not null"`
	ReactedAtSeconds int64  `gorm:"column:reacted_at_s;not null;index:idx_reactions_message_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Pick is one selected participant in draw order.
type Pick struct {
	ParticipantID int64
	DisplayName   string
}
