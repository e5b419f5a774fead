package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/raidworks/raidbot/internal/auth"
	"github.com/raidworks/raidbot/internal/database"
	"github.com/raidworks/raidbot/internal/notify"
	"github.com/raidworks/raidbot/internal/raid"
	"github.com/raidworks/raidbot/internal/reaction"
	"github.com/raidworks/raidbot/internal/roster"
	"go.uber.org/zap"
)

var (
	errMissingEngine          = errors.New("raid engine dependency required")
	errMissingReactionService = errors.New("reaction service dependency required")
	errMissingRosterService   = errors.New("roster service dependency required")
	errMissingCallbackIssuer  = errors.New("callback issuer dependency required")
	errMissingPrivilegeCheck  = errors.New("privilege checker dependency required")
	errMissingAnnouncer       = errors.New("announcer dependency required")
)

// PrivilegeChecker answers whether a user may run moderator commands in a
// chat. The host chat platform is the authority.
type PrivilegeChecker interface {
	IsPrivileged(ctx context.Context, chatID, userID int64) (bool, error)
}

// Announcer posts and pins chat messages for the command surface: react
// prompts and project sheets.
type Announcer interface {
	Notify(ctx context.Context, chatID int64, text string, buttons ...notify.Button) (int64, error)
	Pin(ctx context.Context, chatID, messageID int64) error
}

// Dependencies lists the collaborators the HTTP surface needs.
type Dependencies struct {
	Engine     *raid.Engine
	Reactions  *reaction.Service
	Roster     *roster.Service
	Callbacks  *auth.CallbackIssuer
	Privileges PrivilegeChecker
	Announcer  Announcer
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the command surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Reactions == nil {
		return nil, errMissingReactionService
	}
	if deps.Roster == nil {
		return nil, errMissingRosterService
	}
	if deps.Callbacks == nil {
		return nil, errMissingCallbackIssuer
	}
	if deps.Privileges == nil {
		return nil, errMissingPrivilegeCheck
	}
	if deps.Announcer == nil {
		return nil, errMissingAnnouncer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:     deps.Engine,
		reactions:  deps.Reactions,
		roster:     deps.Roster,
		callbacks:  deps.Callbacks,
		privileges: deps.Privileges,
		announcer:  deps.Announcer,
		logger:     logger,
	}

	router.POST("/raids", handler.handleLaunchRaid)
	router.GET("/raids/:id", handler.handleRaidSnapshot)

	router.POST("/prompts", handler.handleCreatePrompt)
	router.POST("/reactions", handler.handleRecordReaction)
	router.POST("/messages/:message_id/picks", handler.handlePickParticipants)

	router.POST("/teams", handler.handleCreateTeam)
	router.GET("/teams", handler.handleListTeams)
	router.GET("/teams/:name", handler.handleViewTeam)
	router.POST("/teams/:name/remove", handler.handleRemoveTeam)
	router.POST("/teams/:name/verify", handler.handleVerifyTeam)

	router.POST("/raiders", handler.handleRegisterRaider)
	router.POST("/raiders/leave", handler.handleLeaveTeam)
	router.POST("/raiders/sweep", handler.handleSweepInactive)
	router.GET("/leaderboard", handler.handleLeaderboard)

	router.POST("/projects", handler.handleSaveProject)
	router.GET("/projects", handler.handleListProjects)
	router.POST("/projects/:name/delete", handler.handleDeleteProject)
	router.POST("/projects/:name/swap", handler.handleSwapMembers)

	router.POST("/balances/credit", handler.handleCreditBalance)
	router.GET("/balances/:project", handler.handleProjectBalances)
	router.POST("/balances/reset", handler.handleResetBalances)

	return router, nil
}

type httpHandler struct {
	engine     *raid.Engine
	reactions  *reaction.Service
	roster     *roster.Service
	callbacks  *auth.CallbackIssuer
	privileges PrivilegeChecker
	announcer  Announcer
	logger     *zap.Logger
}

type launchRaidPayload struct {
	ChatID    int64            `json:"chat_id"`
	MessageID int64            `json:"message_id"`
	UserID    int64            `json:"user_id"`
	PostID    string           `json:"post_id"`
	Goals     map[string]int64 `json:"goals"`
}

func (h *httpHandler) handleLaunchRaid(c *gin.Context) {
	var request launchRaidPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}

	raidID, err := h.engine.Launch(c.Request.Context(), request.ChatID, request.MessageID, request.PostID, request.Goals)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"raid_id": raidID})
}

func (h *httpHandler) handleRaidSnapshot(c *gin.Context) {
	view, err := h.engine.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	dimensions := make([]gin.H, 0, len(view.Dimensions))
	for _, line := range view.Dimensions {
		dimensions = append(dimensions, gin.H{
			"dimension": line.Dimension,
			"current":   line.Current,
			"goal":      line.Goal,
			"bar":       raid.RenderBar(line.Current, line.Goal),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"raid_id":    view.RaidID,
		"post_id":    view.PostID,
		"dimensions": dimensions,
		"text":       view.Text(),
	})
}

type createPromptPayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// handleCreatePrompt posts a reaction prompt carrying a signed callback
// button; reactions arriving later must present that callback data.
func (h *httpHandler) handleCreatePrompt(c *gin.Context) {
	var request createPromptPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ChatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	callbackData, err := h.callbacks.Issue(request.ChatID)
	if err != nil {
		h.logger.Error("callback issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	text := request.Text
	if text == "" {
		text = "Click the button to participate:"
	}
	messageID, err := h.announcer.Notify(c.Request.Context(), request.ChatID, text,
		notify.Button{Label: "🔥 React!", CallbackData: callbackData})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": messageID})
}

type recordReactionPayload struct {
	CallbackData  string `json:"callback_data"`
	ChatID        int64  `json:"chat_id"`
	MessageID     int64  `json:"message_id"`
	ParticipantID int64  `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

func (h *httpHandler) handleRecordReaction(c *gin.Context) {
	var request recordReactionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	// The token is bound to the chat its prompt was posted in; a valid
	// token replayed from another chat is still rejected.
	chatID, err := h.callbacks.Validate(request.CallbackData)
	if err != nil || chatID != request.ChatID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_callback"})
		return
	}

	if err := h.reactions.Record(c.Request.Context(), request.MessageID, request.ParticipantID, request.DisplayName); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pickPayload struct {
	Count int `json:"count"`
}

func (h *httpHandler) handlePickParticipants(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message_id"})
		return
	}
	var request pickPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	picks, err := h.reactions.SelectParticipants(c.Request.Context(), messageID, request.Count)
	if err != nil {
		h.writeError(c, err)
		return
	}

	selected := make([]gin.H, 0, len(picks))
	for _, pick := range picks {
		selected = append(selected, gin.H{
			"participant_id": pick.ParticipantID,
			"display_name":   pick.DisplayName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"picks": selected})
}

type teamPayload struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

func (h *httpHandler) handleCreateTeam(c *gin.Context) {
	var request teamPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	if err := h.roster.CreateTeam(c.Request.Context(), request.Name, request.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *httpHandler) handleListTeams(c *gin.Context) {
	teams, err := h.roster.ListTeams(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	names := make([]string, 0, len(teams))
	for _, team := range teams {
		names = append(names, team.Name)
	}
	c.JSON(http.StatusOK, gin.H{"teams": names})
}

func (h *httpHandler) handleViewTeam(c *gin.Context) {
	members, err := h.roster.ViewTeam(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	usernames := make([]string, 0, len(members))
	for _, member := range members {
		usernames = append(usernames, member.Username)
	}
	c.JSON(http.StatusOK, gin.H{"members": usernames})
}

type chatActorPayload struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

func (h *httpHandler) handleRemoveTeam(c *gin.Context) {
	var request chatActorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	if err := h.roster.RemoveTeam(c.Request.Context(), c.Param("name"), request.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleVerifyTeam(c *gin.Context) {
	var request chatActorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	if err := h.roster.VerifyTeam(c.Request.Context(), c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type registerRaiderPayload struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	TwitterHandle string `json:"twitter_handle"`
	Team          string `json:"team"`
}

func (h *httpHandler) handleRegisterRaider(c *gin.Context) {
	var request registerRaiderPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.roster.RegisterRaider(c.Request.Context(), request.UserID, request.Username, request.TwitterHandle, request.Team)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type leaveTeamPayload struct {
	UserID int64 `json:"user_id"`
}

func (h *httpHandler) handleLeaveTeam(c *gin.Context) {
	var request leaveTeamPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.roster.LeaveTeam(c.Request.Context(), request.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSweepInactive(c *gin.Context) {
	var request chatActorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	removed, err := h.roster.RemoveInactive(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	top, err := h.roster.Leaderboard(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	usernames := make([]string, 0, len(top))
	for _, raider := range top {
		usernames = append(usernames, raider.Username)
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": usernames})
}

type saveProjectPayload struct {
	ChatID  int64    `json:"chat_id"`
	UserID  int64    `json:"user_id"`
	Name    string   `json:"name"`
	Leads   []string `json:"leads"`
	Raiders []string `json:"raiders"`
}

func (h *httpHandler) handleSaveProject(c *gin.Context) {
	var request saveProjectPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	err := h.roster.SaveProject(c.Request.Context(), request.ChatID, request.Name, request.Leads, request.Raiders)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.announceProject(c.Request.Context(), request.ChatID, roster.Project{
		ChatID:  request.ChatID,
		Name:    request.Name,
		Leads:   strings.Join(request.Leads, "\n"),
		Raiders: strings.Join(request.Raiders, "\n"),
	})
	c.Status(http.StatusCreated)
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chat_id"})
		return
	}
	projects, err := h.roster.ListProjects(c.Request.Context(), chatID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	listed := make([]gin.H, 0, len(projects))
	for _, project := range projects {
		listed = append(listed, gin.H{
			"name":    project.Name,
			"leads":   project.LeadList(),
			"raiders": project.RaiderList(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"projects": listed})
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	var request chatActorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	if err := h.roster.DeleteProject(c.Request.Context(), request.ChatID, c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type swapPayload struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Swaps  []struct {
		Old string `json:"old"`
		New string `json:"new"`
	} `json:"swaps"`
}

func (h *httpHandler) handleSwapMembers(c *gin.Context) {
	var request swapPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Swaps) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}

	swaps := make([]roster.Swap, 0, len(request.Swaps))
	for _, swap := range request.Swaps {
		swaps = append(swaps, roster.Swap{Old: swap.Old, New: swap.New})
	}
	updated, err := h.roster.SwapMembers(c.Request.Context(), request.ChatID, c.Param("name"), swaps)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.announceProject(c.Request.Context(), request.ChatID, updated)
	c.JSON(http.StatusOK, gin.H{
		"name":    updated.Name,
		"leads":   updated.LeadList(),
		"raiders": updated.RaiderList(),
	})
}

type creditBalancePayload struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Raider   int64  `json:"raider_id"`
	Username string `json:"username"`
	Project  string `json:"project"`
	Amount   int64  `json:"amount"`
}

func (h *httpHandler) handleCreditBalance(c *gin.Context) {
	var request creditBalancePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	err := h.roster.CreditBalance(c.Request.Context(), request.Raider, request.Username, request.Project, request.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleProjectBalances(c *gin.Context) {
	balances, err := h.roster.ProjectBalances(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	ledger := make([]gin.H, 0, len(balances))
	for _, balance := range balances {
		ledger = append(ledger, gin.H{
			"user_id":  balance.UserID,
			"username": balance.Username,
			"balance":  balance.Balance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"balances": ledger})
}

func (h *httpHandler) handleResetBalances(c *gin.Context) {
	var request chatActorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.requirePrivilege(c, request.ChatID, request.UserID) {
		return
	}
	swept, err := h.roster.ResetWeek(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": swept})
}

// requirePrivilege rejects the request unless the chat platform confirms
// the user is an administrator. Lookup failures count as not privileged.
func (h *httpHandler) requirePrivilege(c *gin.Context, chatID, userID int64) bool {
	privileged, err := h.privileges.IsPrivileged(c.Request.Context(), chatID, userID)
	if err != nil {
		h.logger.Warn("privilege check failed",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Error(err))
		privileged = false
	}
	if !privileged {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "only chat admins can do that"})
		return false
	}
	return true
}

func (h *httpHandler) announceProject(ctx context.Context, chatID int64, project roster.Project) {
	text := "/CP " + project.Name + "\n\nLEADS\n" + project.Leads + "\n\nRAIDERS\n" + project.Raiders
	messageID, err := h.announcer.Notify(ctx, chatID, text)
	if err != nil {
		h.logger.Warn("project announcement failed", zap.String("project", project.Name), zap.Error(err))
		return
	}
	if err := h.announcer.Pin(ctx, chatID, messageID); err != nil {
		h.logger.Warn("project pin failed", zap.String("project", project.Name), zap.Error(err))
	}
}

// writeError maps service errors onto the HTTP surface: bad input gets a
// specific usage message, transient store contention a retry hint, benign
// absences a 404.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, raid.ErrInvalidGoals), errors.Is(err, raid.ErrUnknownDimension):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_goals",
			"message": "goals must map known dimensions (likes, retweets, replies, bookmarks) to positive targets",
		})
	case errors.Is(err, reaction.ErrInvalidParticipant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_participant"})
	case errors.Is(err, raid.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "raid_already_running"})
	case errors.Is(err, roster.ErrTeamExists):
		c.JSON(http.StatusConflict, gin.H{"error": "team_exists"})
	case errors.Is(err, roster.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "already_registered"})
	case errors.Is(err, roster.ErrNotEnoughMembers):
		c.JSON(http.StatusConflict, gin.H{"error": "not_enough_members"})
	case errors.Is(err, roster.ErrNotTeamLeader):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_team_leader"})
	case errors.Is(err, reaction.ErrNoReactions):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_reactions"})
	case errors.Is(err, raid.ErrNotFound),
		errors.Is(err, roster.ErrTeamNotFound),
		errors.Is(err, roster.ErrProjectNotFound),
		errors.Is(err, roster.ErrMemberNotFound),
		errors.Is(err, roster.ErrNotRegistered):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, database.ErrStoreBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "store_busy",
			"message": "the store is busy, try again shortly",
		})
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
