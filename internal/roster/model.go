package roster

import (
	"errors"
	"strings"
)

var (
	// ErrTeamExists indicates a team with that name already exists.
	ErrTeamExists = errors.New("roster: team already exists")
	// ErrTeamNotFound indicates the named team does not exist.
	ErrTeamNotFound = errors.New("roster: team not found")
	// ErrNotTeamLeader indicates the caller does not own the team.
	ErrNotTeamLeader = errors.New("roster: not the team leader")
	// ErrAlreadyRegistered indicates the raider is already registered.
	ErrAlreadyRegistered = errors.New("roster: already registered")
	// ErrNotRegistered indicates no raider record exists for the user.
	ErrNotRegistered = errors.New("roster: not registered")
	// ErrNotEnoughMembers indicates the team is below the verification bar.
	ErrNotEnoughMembers = errors.New("roster: not enough members for verification")
	// ErrProjectNotFound indicates the named project does not exist in the chat.
	ErrProjectNotFound = errors.New("roster: project not found")
	// ErrMemberNotFound indicates a swap referenced a member absent from the project.
	ErrMemberNotFound = errors.New("roster: member not found in project")
)

// Team groups raiders under a leader. Verification unlocks once the team
// reaches the member threshold.
type Team struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name     string `gorm:"column:name;size:190;uniqueIndex;not null"`
	LeaderID int64  `gorm:"column:leader_id;not null"`
	Verified bool   `gorm:"column:verified;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Team) TableName() string {
	return "teams"
}

// Raider is one registered participant, optionally attached to a team.
type Raider struct {
	UserID            int64  `gorm:"column:user_id;primaryKey;not null"`
	Username          string `gorm:"column:username;size:190;not null"`
	TwitterHandle     string `gorm:"column:twitter_handle;size:190"`
	TeamID            int64  `gorm:"column:team_id;index"`
	LastActiveSeconds int64  `gorm:"column:last_active_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Raider) TableName() string {
	return "raiders"
}

// Project is a per-chat assignment sheet: leads and raiders stored as
// newline-joined display names, the format the chat surface posts and pins.
type Project struct {
	ChatID           int64  `gorm:"column:chat_id;not null;uniqueIndex:idx_projects_chat_name,priority:1"`
	Name             string `gorm:"column:project_name;size:190;not null;uniqueIndex:idx_projects_chat_name,priority:2"`
	Leads            string `gorm:"column:leads;type:text;not null"`
	Raiders          string `gorm:"column:raiders;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// LeadList splits the stored leads into display names.
func (p Project) LeadList() []string {
	return splitMembers(p.Leads)
}

// RaiderList splits the stored raiders into display names.
func (p Project) RaiderList() []string {
	return splitMembers(p.Raiders)
}

func splitMembers(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	lines := strings.Split(joined, "\n")
	members := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			members = append(members, trimmed)
		}
	}
	return members
}

func joinMembers(members []string) string {
	return strings.Join(members, "\n")
}

// ProjectBalance is the per participant and project ledger, tagged with the
// week it was earned in so the weekly sweep can reset stale rows.
type ProjectBalance struct {
	UserID      int64  `gorm:"column:user_id;primaryKey;not null"`
	ProjectName string `gorm:"column:project_name;primaryKey;size:190;not null"`
	Username    string `gorm:"column:username;size:190;not null"`
	Balance     int64  `gorm:"column:balance;not null;default:0"`
	Week        int    `gorm:"column:week;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ProjectBalance) TableName() string {
	return "project_balances"
}
