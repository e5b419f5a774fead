package reaction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/raidworks/raidbot/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPickCount = 3

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "reaction.service.new"
	opRecord     = "reaction.record"
	opSelect     = "reaction.select"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig lists the dependencies of the reaction service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// Rand yields a uniform value in [0,1) for the weighted draw. Injected
	// in tests for determinism; defaults to a time-seeded source.
	Rand func() float64
}

// Service records reactions and performs the weighted participant selection.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	rand   func() float64
}

// NewService constructs the reaction service and validates its dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	randomFn := cfg.Rand
	if randomFn == nil {
		source := rand.New(rand.NewSource(time.Now().UnixNano()))
		randomFn = source.Float64
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
		rand:   randomFn,
	}, nil
}

// Record stores a reaction. A repeat reaction by the same participant
// updates the timestamp (and display name) of the existing row; the log for
// a message never exceeds the number of distinct participants.
func (s *Service) Record(ctx context.Context, messageID, participantID int64, displayName string) error {
	if participantID == 0 {
		return fmt.Errorf("%w: participant id required", ErrInvalidParticipant)
	}

	reactedAt := s.clock().UTC().Unix()
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var existing Reaction
		err := tx.Where("message_id = ? AND participant_id = ?", messageID, participantID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Reaction{
				MessageID:        messageID,
				ParticipantID:    participantID,
				DisplayName:      displayName,
				ReactedAtSeconds: reactedAt,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&Reaction{}).
			Where("message_id = ? AND participant_id = ?", messageID, participantID).
			Updates(map[string]interface{}{
				"display_name": displayName,
				"reacted_at_s": reactedAt,
			}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opRecord, "reaction_save_failed", txErr,
			zap.Int64("message_id", messageID),
			zap.Int64("participant_id", participantID))
		return newServiceError(opRecord, "reaction_save_failed", txErr)
	}
	return nil
}

// SelectParticipants draws count winners from the reactors of a message.
// Reactors are ranked by reaction time; rank r carries weight 1/(r+1)², so
// early reactors are strongly favoured. Draws happen with replacement and
// are deduplicated in draw order, which may yield fewer than count distinct
// participants; that under-yield is accepted, not corrected.
func (s *Service) SelectParticipants(ctx context.Context, messageID int64, count int) ([]Pick, error) {
	var reactors []Reaction
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("reacted_at_s ASC").
		Find(&reactors).Error
	if err != nil {
		s.logError(opSelect, "reaction_list_failed", err, zap.Int64("message_id", messageID))
		return nil, newServiceError(opSelect, "reaction_list_failed", err)
	}
	if len(reactors) == 0 {
		return nil, ErrNoReactions
	}

	if count <= 0 {
		count = defaultPickCount
	}
	if count > len(reactors) {
		count = len(reactors)
	}

	weights := make([]float64, len(reactors))
	total := 0.0
	for rank := range reactors {
		weights[rank] = 1.0 / float64((rank+1)*(rank+1))
		total += weights[rank]
	}

	seen := make(map[int64]struct{}, count)
	picks := make([]Pick, 0, count)
	for draw := 0; draw < count; draw++ {
		target := s.rand() * total
		index := len(reactors) - 1
		cumulative := 0.0
		for i, weight := range weights {
			cumulative += weight
			if target < cumulative {
				index = i
				break
			}
		}
		chosen := reactors[index]
		if _, duplicate := seen[chosen.ParticipantID]; duplicate {
			continue
		}
		seen[chosen.ParticipantID] = struct{}{}
		picks = append(picks, Pick{
			ParticipantID: chosen.ParticipantID,
			DisplayName:   chosen.DisplayName,
		})
	}
	return picks, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("reaction service error", attrs...)
}
