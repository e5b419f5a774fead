package raid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raidworks/raidbot/internal/database"
	"github.com/raidworks/raidbot/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultRaidDuration = 6 * time.Minute
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingMetrics    = errors.New("metrics source is required")
	errMissingNotifier   = errors.New("notifier is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// EngineError carries an operation.reason code alongside the underlying cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

func (e *EngineError) Code() string {
	return e.code
}

const (
	opEngineNew = "raid.engine.new"
	opLaunch    = "raid.launch"
	opPoll      = "raid.poll"
	opExpire    = "raid.expire"
	opFinalize  = "raid.finalize"
	opSnapshot  = "raid.snapshot"
	opRestore   = "raid.restore"
)

func newEngineError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &EngineError{code: code, err: cause}
}

// MetricsSource supplies current engagement counts for a tracked post.
type MetricsSource interface {
	Fetch(ctx context.Context, postID string) (map[string]int64, error)
	Dimensions() []string
}

// Notifier is the display adapter the engine emits snapshots and terminal
// notices through.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string, buttons ...notify.Button) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string) error
}

// IDProvider issues raid identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// EngineConfig lists the dependencies of the raid engine.
type EngineConfig struct {
	Database     *gorm.DB
	Metrics      MetricsSource
	Notifier     Notifier
	IDProvider   IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
	PollInterval time.Duration
	RaidDuration time.Duration
}

// Engine owns the lifecycle of every active raid: launch, scheduled polls,
// goal evaluation and finalization. The store is the single source of truth;
// poll and expiry racing over the same raid is resolved by delete-if-present
// semantics, never by in-memory state.
type Engine struct {
	db           *gorm.DB
	metrics      MetricsSource
	notifier     Notifier
	ids          IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	sched        *Scheduler
	pollInterval time.Duration
	duration     time.Duration
}

// NewEngine constructs the engine and validates its dependencies.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newEngineError(opEngineNew, "missing_database", errMissingDatabase)
	}
	if cfg.Metrics == nil {
		return nil, newEngineError(opEngineNew, "missing_metrics", errMissingMetrics)
	}
	if cfg.Notifier == nil {
		return nil, newEngineError(opEngineNew, "missing_notifier", errMissingNotifier)
	}
	if cfg.IDProvider == nil {
		return nil, newEngineError(opEngineNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	duration := cfg.RaidDuration
	if duration <= 0 {
		duration = defaultRaidDuration
	}

	return &Engine{
		db:           cfg.Database,
		metrics:      cfg.Metrics,
		notifier:     cfg.Notifier,
		ids:          cfg.IDProvider,
		clock:        clock,
		logger:       logger,
		sched:        NewScheduler(),
		pollInterval: pollInterval,
		duration:     duration,
	}, nil
}

// Launch validates the goals, persists a fresh raid with zeroed progress,
// arms its poll and expiry timers and emits the initial snapshot.
func (e *Engine) Launch(ctx context.Context, chatID, messageID int64, postID string, rawGoals map[string]int64) (string, error) {
	goals, err := NewGoalSet(rawGoals, e.metrics.Dimensions())
	if err != nil {
		return "", err
	}

	raidID, err := e.ids.NewID()
	if err != nil {
		e.logError(opLaunch, "id_generation_failed", err)
		return "", newEngineError(opLaunch, "id_generation_failed", err)
	}

	progress := make(map[string]int64, len(goals))
	for dimension := range goals {
		progress[dimension] = 0
	}
	goalsJSON, err := encodeCounts(goals)
	if err != nil {
		return "", newEngineError(opLaunch, "goals_encode_failed", err)
	}
	progressJSON, err := encodeCounts(progress)
	if err != nil {
		return "", newEngineError(opLaunch, "progress_encode_failed", err)
	}

	record := Raid{
		ID:               raidID,
		ChatID:           chatID,
		MessageID:        messageID,
		PostID:           postID,
		GoalsJSON:        goalsJSON,
		ProgressJSON:     progressJSON,
		CreatedAtSeconds: e.clock().UTC().Unix(),
	}

	txErr := database.RunInTransaction(ctx, e.db, database.WritePolicy, func(tx *gorm.DB) error {
		var existing Raid
		err := tx.Where("chat_id = ? AND message_id = ?", chatID, messageID).Take(&existing).Error
		if err == nil {
			return ErrAlreadyRunning
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&record).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrAlreadyRunning) || errors.Is(txErr, database.ErrStoreBusy) {
			return "", txErr
		}
		e.logError(opLaunch, "raid_create_failed", txErr, zap.Int64("chat_id", chatID))
		return "", newEngineError(opLaunch, "raid_create_failed", txErr)
	}

	e.arm(raidID, e.duration)

	if view, err := newProgressView(record); err != nil {
		e.logger.Warn("initial snapshot rendering failed",
			zap.String("raid_id", raidID), zap.Error(err))
	} else if err := e.notifier.Edit(ctx, chatID, messageID, view.Text()); err != nil {
		e.logger.Warn("initial snapshot delivery failed",
			zap.String("raid_id", raidID), zap.Error(err))
	}

	e.logger.Info("raid launched",
		zap.String("raid_id", raidID),
		zap.Int64("chat_id", chatID),
		zap.String("post_id", postID))
	return raidID, nil
}

// Poll runs one scheduled update: fetch metrics, overwrite progress and
// either finalize on goal completion or refresh the progress message. An
// absent record means the raid already finalized; that is a silent no-op.
func (e *Engine) Poll(ctx context.Context, raidID string) error {
	var record Raid
	err := e.db.WithContext(ctx).Where("id = ?", raidID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		e.logError(opPoll, "raid_load_failed", err, zap.String("raid_id", raidID))
		return newEngineError(opPoll, "raid_load_failed", err)
	}

	counts, err := e.metrics.Fetch(ctx, record.PostID)
	if err != nil {
		// Progress stays unchanged; the next tick retries naturally.
		e.logger.Warn("metrics fetch failed, keeping previous progress",
			zap.String("raid_id", raidID),
			zap.String("post_id", record.PostID),
			zap.Error(err))
		return nil
	}

	goals, err := record.Goals()
	if err != nil {
		e.logError(opPoll, "goals_decode_failed", err, zap.String("raid_id", raidID))
		return newEngineError(opPoll, "goals_decode_failed", err)
	}

	// The external source is authoritative: overwrite, do not merge.
	progress := make(map[string]int64, len(goals))
	for dimension := range goals {
		progress[dimension] = counts[dimension]
	}
	progressJSON, err := encodeCounts(progress)
	if err != nil {
		return newEngineError(opPoll, "progress_encode_failed", err)
	}

	txErr := database.RunInTransaction(ctx, e.db, database.WritePolicy, func(tx *gorm.DB) error {
		return tx.Model(&Raid{}).Where("id = ?", raidID).
			Update("progress_json", progressJSON).Error
	})
	if txErr != nil {
		e.logError(opPoll, "progress_save_failed", txErr, zap.String("raid_id", raidID))
		return newEngineError(opPoll, "progress_save_failed", txErr)
	}
	record.ProgressJSON = progressJSON

	if goalsMet(progress, goals) {
		return e.finalize(ctx, record, "🎉 All raid goals achieved!")
	}

	view, err := newProgressView(record)
	if err != nil {
		return newEngineError(opPoll, "snapshot_render_failed", err)
	}
	if err := e.notifier.Edit(ctx, record.ChatID, record.MessageID, view.Text()); err != nil {
		e.logger.Warn("snapshot delivery failed",
			zap.String("raid_id", raidID), zap.Error(err))
	}
	return nil
}

// Expire finalizes a raid whose horizon elapsed. An absent record means the
// raid already completed; that is a no-op.
func (e *Engine) Expire(ctx context.Context, raidID string) error {
	var record Raid
	err := e.db.WithContext(ctx).Where("id = ?", raidID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		e.logError(opExpire, "raid_load_failed", err, zap.String("raid_id", raidID))
		return newEngineError(opExpire, "raid_load_failed", err)
	}
	return e.finalize(ctx, record, "⌛ Raid timed out before every goal was met.")
}

// finalize deletes the record, sends the terminal notice and cancels the
// raid's timers. The delete is the arbiter when poll and expiry race: only
// the caller that actually removed the row notifies. The notice goes out
// before Cancel because timer-driven callers run on the task context that
// Cancel tears down.
func (e *Engine) finalize(ctx context.Context, record Raid, notice string) error {
	deleted := false
	txErr := database.RunInTransaction(ctx, e.db, database.WritePolicy, func(tx *gorm.DB) error {
		result := tx.Where("id = ?", record.ID).Delete(&Raid{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if txErr != nil {
		e.logError(opFinalize, "raid_delete_failed", txErr, zap.String("raid_id", record.ID))
		return newEngineError(opFinalize, "raid_delete_failed", txErr)
	}
	if !deleted {
		return nil
	}

	if _, err := e.notifier.Notify(ctx, record.ChatID, notice); err != nil {
		e.logger.Warn("terminal notice delivery failed",
			zap.String("raid_id", record.ID), zap.Error(err))
	}
	e.sched.Cancel(record.ID)
	e.logger.Info("raid finalized", zap.String("raid_id", record.ID))
	return nil
}

// Snapshot returns the current progress view for a raid. It is a pure read;
// ErrNotFound means the raid finished or never existed.
func (e *Engine) Snapshot(ctx context.Context, raidID string) (ProgressView, error) {
	var record Raid
	err := e.db.WithContext(ctx).Where("id = ?", raidID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProgressView{}, ErrNotFound
	}
	if err != nil {
		e.logError(opSnapshot, "raid_load_failed", err, zap.String("raid_id", raidID))
		return ProgressView{}, newEngineError(opSnapshot, "raid_load_failed", err)
	}
	view, err := newProgressView(record)
	if err != nil {
		return ProgressView{}, newEngineError(opSnapshot, "snapshot_render_failed", err)
	}
	return view, nil
}

// Restore re-arms the timers of every raid that survived a restart, using
// the remaining horizon computed from the stored creation time. Raids whose
// horizon already passed expire immediately.
func (e *Engine) Restore(ctx context.Context) error {
	var records []Raid
	if err := e.db.WithContext(ctx).Find(&records).Error; err != nil {
		e.logError(opRestore, "raid_list_failed", err)
		return newEngineError(opRestore, "raid_list_failed", err)
	}

	now := e.clock().UTC()
	restored := 0
	for _, record := range records {
		remaining := e.duration - now.Sub(time.Unix(record.CreatedAtSeconds, 0).UTC())
		if remaining <= 0 {
			if err := e.Expire(ctx, record.ID); err != nil {
				e.logger.Warn("overdue raid expiry failed",
					zap.String("raid_id", record.ID), zap.Error(err))
			}
			continue
		}
		e.arm(record.ID, remaining)
		restored++
	}

	if restored > 0 {
		e.logger.Info("raids restored", zap.Int("count", restored))
	}
	return nil
}

// Shutdown stops every armed timer and waits for in-flight polls to finish.
func (e *Engine) Shutdown() {
	e.sched.Shutdown()
}

func (e *Engine) arm(raidID string, horizon time.Duration) {
	e.sched.Arm(raidID, e.pollInterval, horizon,
		func(ctx context.Context) {
			_ = e.Poll(ctx, raidID)
		},
		func(ctx context.Context) {
			_ = e.Expire(ctx, raidID)
		})
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("raid engine error", attrs...)
}
