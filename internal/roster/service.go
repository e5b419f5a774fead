package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raidworks/raidbot/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	inactivityHorizon       = 14 * 24 * time.Hour
	verificationMemberCount = 80
	leaderboardSize         = 10
)

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
	opServiceNew     = "roster.service.new"
	opCreateTeam     = "roster.create_team"
	opViewTeam       = "roster.view_team"
	opRemoveTeam     = "roster.remove_team"
	opRegister       = "roster.register_raider"
	opLeaveTeam      = "roster.leave_team"
	opRemoveInactive = "roster.remove_inactive"
	opVerifyTeam     = "roster.verify_team"
	opLeaderboard    = "roster.leaderboard"
	opSaveProject    = "roster.save_project"
	opListProjects   = "roster.list_projects"
	opDeleteProject  = "roster.delete_project"
	opSwapMembers    = "roster.swap_members"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig lists the dependencies of the roster service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages teams, raiders, projects and project balances.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the roster service and validates its dependencies.
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
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateTeam registers a new team owned by the leader.
func (s *Service) CreateTeam(ctx context.Context, name string, leaderID int64) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name required", ErrTeamNotFound)
	}
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var existing Team
		err := tx.Where("name = ?", trimmed).Take(&existing).Error
		if err == nil {
			return ErrTeamExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&Team{Name: trimmed, LeaderID: leaderID}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrTeamExists) || errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opCreateTeam, "team_create_failed", txErr, zap.String("team", trimmed))
		return newServiceError(opCreateTeam, "team_create_failed", txErr)
	}
	return nil
}

// ListTeams returns all teams ordered by name.
func (s *Service) ListTeams(ctx context.Context) ([]Team, error) {
	var teams []Team
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&teams).Error; err != nil {
		return nil, newServiceError("roster.list_teams", "query_failed", err)
	}
	return teams, nil
}

// ViewTeam returns the members of the named team.
func (s *Service) ViewTeam(ctx context.Context, name string) ([]Raider, error) {
	team, err := s.teamByName(ctx, name)
	if err != nil {
		return nil, err
	}
	var members []Raider
	if err := s.db.WithContext(ctx).
		Where("team_id = ?", team.ID).
		Order("username ASC").
		Find(&members).Error; err != nil {
		s.logError(opViewTeam, "member_query_failed", err, zap.String("team", name))
		return nil, newServiceError(opViewTeam, "member_query_failed", err)
	}
	return members, nil
}

// RemoveTeam deletes a team; only its leader may do so.
func (s *Service) RemoveTeam(ctx context.Context, name string, leaderID int64) error {
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var team Team
		err := tx.Where("name = ?", name).Take(&team).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTeamNotFound
		}
		if err != nil {
			return err
		}
		if team.LeaderID != leaderID {
			return ErrNotTeamLeader
		}
		return tx.Delete(&Team{}, team.ID).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrTeamNotFound) || errors.Is(txErr, ErrNotTeamLeader) || errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opRemoveTeam, "team_delete_failed", txErr, zap.String("team", name))
		return newServiceError(opRemoveTeam, "team_delete_failed", txErr)
	}
	return nil
}

// RegisterRaider registers a participant into a team. The whole
// check-then-insert runs as one transaction on the high-contention retry
// policy, so two concurrent attempts for the same user yield exactly one
// success.
func (s *Service) RegisterRaider(ctx context.Context, userID int64, username, twitterHandle, teamName string) error {
	normalizedHandle := ""
	if trimmed := strings.TrimSpace(twitterHandle); trimmed != "" {
		normalizedHandle = "@" + strings.TrimLeft(trimmed, "@")
	}

	txErr := database.RunInTransaction(ctx, s.db, database.RegisterPolicy, func(tx *gorm.DB) error {
		var existing Raider
		err := tx.Where("user_id = ?", userID).Take(&existing).Error
		if err == nil {
			return ErrAlreadyRegistered
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var team Team
		err = tx.Where("name = ?", teamName).Take(&team).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTeamNotFound
		}
		if err != nil {
			return err
		}

		return tx.Create(&Raider{
			UserID:            userID,
			Username:          username,
			TwitterHandle:     normalizedHandle,
			TeamID:            team.ID,
			LastActiveSeconds: s.clock().UTC().Unix(),
		}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrAlreadyRegistered) || errors.Is(txErr, ErrTeamNotFound) || errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opRegister, "raider_create_failed", txErr, zap.Int64("user_id", userID))
		return newServiceError(opRegister, "raider_create_failed", txErr)
	}
	return nil
}

// LeaveTeam detaches the raider from their team.
func (s *Service) LeaveTeam(ctx context.Context, userID int64) error {
	affected := int64(0)
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		result := tx.Model(&Raider{}).Where("user_id = ?", userID).Update("team_id", 0)
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opLeaveTeam, "raider_update_failed", txErr, zap.Int64("user_id", userID))
		return newServiceError(opLeaveTeam, "raider_update_failed", txErr)
	}
	if affected == 0 {
		return ErrNotRegistered
	}
	return nil
}

// RemoveInactive deletes raiders idle past the inactivity horizon and
// returns how many were removed.
func (s *Service) RemoveInactive(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-inactivityHorizon).Unix()
	removed := int64(0)
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		result := tx.Where("last_active_s < ?", cutoff).Delete(&Raider{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return 0, txErr
		}
		s.logError(opRemoveInactive, "raider_sweep_failed", txErr)
		return 0, newServiceError(opRemoveInactive, "raider_sweep_failed", txErr)
	}
	return removed, nil
}

// VerifyTeam marks a team verified once it reaches the member threshold.
func (s *Service) VerifyTeam(ctx context.Context, name string) error {
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var team Team
		err := tx.Where("name = ?", name).Take(&team).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTeamNotFound
		}
		if err != nil {
			return err
		}
		var members int64
		if err := tx.Model(&Raider{}).Where("team_id = ?", team.ID).Count(&members).Error; err != nil {
			return err
		}
		if members < verificationMemberCount {
			return ErrNotEnoughMembers
		}
		return tx.Model(&Team{}).Where("id = ?", team.ID).Update("verified", true).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrTeamNotFound) || errors.Is(txErr, ErrNotEnoughMembers) || errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opVerifyTeam, "team_verify_failed", txErr, zap.String("team", name))
		return newServiceError(opVerifyTeam, "team_verify_failed", txErr)
	}
	return nil
}

// Leaderboard returns the most recently active raiders.
func (s *Service) Leaderboard(ctx context.Context) ([]Raider, error) {
	var top []Raider
	if err := s.db.WithContext(ctx).
		Order("last_active_s DESC").
		Limit(leaderboardSize).
		Find(&top).Error; err != nil {
		s.logError(opLeaderboard, "query_failed", err)
		return nil, newServiceError(opLeaderboard, "query_failed", err)
	}
	return top, nil
}

// SaveProject upserts a project assignment sheet for a chat.
func (s *Service) SaveProject(ctx context.Context, chatID int64, name string, leads, raiders []string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name required", ErrProjectNotFound)
	}
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var existing Project
		err := tx.Where("chat_id = ? AND project_name = ?", chatID, trimmed).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Project{
				ChatID:           chatID,
				Name:             trimmed,
				Leads:            joinMembers(leads),
				Raiders:          joinMembers(raiders),
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&Project{}).
			Where("chat_id = ? AND project_name = ?", chatID, trimmed).
			Updates(map[string]interface{}{
				"leads":   joinMembers(leads),
				"raiders": joinMembers(raiders),
			}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opSaveProject, "project_save_failed", txErr, zap.String("project", trimmed))
		return newServiceError(opSaveProject, "project_save_failed", txErr)
	}
	return nil
}

// ListProjects returns every project posted in the chat.
func (s *Service) ListProjects(ctx context.Context, chatID int64) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("project_name ASC").
		Find(&projects).Error; err != nil {
		s.logError(opListProjects, "query_failed", err, zap.Int64("chat_id", chatID))
		return nil, newServiceError(opListProjects, "query_failed", err)
	}
	return projects, nil
}

// DeleteProject removes a project from the chat.
func (s *Service) DeleteProject(ctx context.Context, chatID int64, name string) error {
	deleted := int64(0)
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		result := tx.Where("chat_id = ? AND project_name = ?", chatID, name).Delete(&Project{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opDeleteProject, "project_delete_failed", txErr, zap.String("project", name))
		return newServiceError(opDeleteProject, "project_delete_failed", txErr)
	}
	if deleted == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// Swap names one member replacement inside a project.
type Swap struct {
	Old string
	New string
}

// SwapMembers replaces members in a project's lead or raider list. Every
// swap's Old must exist somewhere in the project or the whole call fails
// without a partial write.
func (s *Service) SwapMembers(ctx context.Context, chatID int64, name string, swaps []Swap) (Project, error) {
	var updated Project
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var project Project
		err := tx.Where("chat_id = ? AND project_name = ?", chatID, name).Take(&project).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}

		leads := project.LeadList()
		raiders := project.RaiderList()
		for _, swap := range swaps {
			if replaceMember(leads, swap.Old, swap.New) {
				continue
			}
			if replaceMember(raiders, swap.Old, swap.New) {
				continue
			}
			return fmt.Errorf("%w: %s", ErrMemberNotFound, swap.Old)
		}

		project.Leads = joinMembers(leads)
		project.Raiders = joinMembers(raiders)
		if err := tx.Model(&Project{}).
			Where("chat_id = ? AND project_name = ?", chatID, name).
			Updates(map[string]interface{}{
				"leads":   project.Leads,
				"raiders": project.Raiders,
			}).Error; err != nil {
			return err
		}
		updated = project
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrProjectNotFound) || errors.Is(txErr, ErrMemberNotFound) || errors.Is(txErr, database.ErrStoreBusy) {
			return Project{}, txErr
		}
		s.logError(opSwapMembers, "project_swap_failed", txErr, zap.String("project", name))
		return Project{}, newServiceError(opSwapMembers, "project_swap_failed", txErr)
	}
	return updated, nil
}

func replaceMember(members []string, old, replacement string) bool {
	for i, member := range members {
		if member == old {
			members[i] = replacement
			return true
		}
	}
	return false
}

func (s *Service) teamByName(ctx context.Context, name string) (Team, error) {
	var team Team
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Team{}, ErrTeamNotFound
	}
	if err != nil {
		return Team{}, newServiceError(opViewTeam, "team_query_failed", err)
	}
	return team, nil
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
	s.logger.Error("roster service error", attrs...)
}
