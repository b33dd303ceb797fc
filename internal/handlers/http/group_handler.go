package http

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
	"p2prelay/pkg/errors"
	"p2prelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

var _ ports.GroupHTTPHandler = (*GroupHandler)(nil)

// GroupHandler serves the admin API for P2P groups and sessions.
type GroupHandler struct {
	groups   ports.GroupService
	sessions ports.SessionService
}

func NewGroupHandler(groups ports.GroupService, sessions ports.SessionService) *GroupHandler {
	return &GroupHandler{
		groups:   groups,
		sessions: sessions,
	}
}

func (h *GroupHandler) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middleware...)
	{
		api.POST("/groups", h.CreateGroup)
		api.GET("/groups", h.ListGroups)
		api.GET("/groups/:id", h.GetGroup)
		api.DELETE("/groups/:id", h.DisbandGroup)
		api.POST("/groups/:id/members", h.AddMember)
		api.DELETE("/groups/:id/members/:hostId", h.RemoveMember)
		api.POST("/groups/:id/pairs/reissue", h.ReissuePair)

		api.GET("/sessions", h.ListSessions)
	}
}

type CreateGroupRequest struct {
	ID string `json:"id" binding:"required"`
}

type AddMemberRequest struct {
	HostID uint64 `json:"host_id" binding:"required"`
}

type ReissuePairRequest struct {
	HostA uint64 `json:"host_a" binding:"required"`
	HostB uint64 `json:"host_b" binding:"required"`
}

type PairStateView struct {
	OtherHostID      domain.HostID  `json:"other_host_id"`
	EventID          domain.EventID `json:"event_id"`
	IsJoined         bool           `json:"is_joined"`
	HolepunchSuccess bool           `json:"holepunch_success"`
	JitTriggered     bool           `json:"jit_triggered"`
}

type MemberView struct {
	HostID   domain.HostID   `json:"host_id"`
	JoinedAt time.Time       `json:"joined_at"`
	States   []PairStateView `json:"states"`
}

type GroupView struct {
	ID        domain.GroupID `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Members   []MemberView   `json:"members"`
}

type SessionView struct {
	HostID      domain.HostID  `json:"host_id"`
	RemoteAddr  string         `json:"remote_addr"`
	ConnectedAt time.Time      `json:"connected_at"`
	GroupID     domain.GroupID `json:"group_id,omitempty"`
	RelayPort   uint16         `json:"relay_port,omitempty"`
	Observed    string         `json:"observed_address,omitempty"`
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.InvalidInput("invalid request format"))
		return
	}
	if err := validation.ValidateGroupID(req.ID); err != nil {
		c.Error(errors.InvalidInput(err.Error()))
		return
	}

	group, err := h.groups.CreateGroup(c.Request.Context(), domain.GroupID(req.ID))
	if err != nil {
		c.Error(mapError(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"group": newGroupView(group)})
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.groups.GetGroup(c.Request.Context(), domain.GroupID(c.Param("id")))
	if err != nil {
		c.Error(mapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"group": newGroupView(group)})
}

func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListGroups(c.Request.Context())
	if err != nil {
		c.Error(mapError(err))
		return
	}

	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, newGroupView(g))
	}
	c.JSON(http.StatusOK, gin.H{"groups": views, "count": len(views)})
}

func (h *GroupHandler) DisbandGroup(c *gin.Context) {
	if err := h.groups.DisbandGroup(c.Request.Context(), domain.GroupID(c.Param("id"))); err != nil {
		c.Error(mapError(err))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.InvalidInput("invalid request format"))
		return
	}
	if err := validation.ValidateHostID(req.HostID); err != nil {
		c.Error(errors.InvalidInput(err.Error()))
		return
	}

	groupID := domain.GroupID(c.Param("id"))
	if err := h.groups.AddMember(c.Request.Context(), groupID, domain.HostID(req.HostID)); err != nil {
		c.Error(mapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group_id": groupID,
		"host_id":  req.HostID,
		"status":   "joined",
	})
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	hostID, err := strconv.ParseUint(c.Param("hostId"), 10, 64)
	if err == nil {
		err = validation.ValidateHostID(hostID)
	}
	if err != nil {
		c.Error(errors.InvalidInput("invalid host ID"))
		return
	}

	if err := h.groups.RemoveMember(c.Request.Context(), domain.GroupID(c.Param("id")), domain.HostID(hostID)); err != nil {
		c.Error(mapError(err))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) ReissuePair(c *gin.Context) {
	var req ReissuePairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.InvalidInput("invalid request format"))
		return
	}
	if err := validation.ValidateHostPair(req.HostA, req.HostB); err != nil {
		c.Error(errors.InvalidInput(err.Error()))
		return
	}

	groupID := domain.GroupID(c.Param("id"))
	err := h.groups.ReissuePair(c.Request.Context(), groupID, domain.HostID(req.HostA), domain.HostID(req.HostB))
	if err != nil {
		c.Error(mapError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reissued"})
}

func (h *GroupHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		c.Error(mapError(err))
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		view := SessionView{
			HostID:      s.HostID,
			RemoteAddr:  s.RemoteAddr,
			ConnectedAt: s.ConnectedAt,
		}
		if g := s.Group(); g != nil {
			view.GroupID = g.ID
		}
		if relay, ok := s.Relay(); ok {
			view.RelayPort = relay.Socket.Port
		}
		if observed := s.Observed(); observed.IsValid() {
			view.Observed = observed.String()
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views, "count": len(views)})
}

func newGroupView(g *domain.P2PGroup) GroupView {
	members := g.Members()
	view := GroupView{
		ID:        g.ID,
		CreatedAt: g.CreatedAt,
		Members:   make([]MemberView, 0, len(members)),
	}
	for _, m := range members {
		mv := MemberView{HostID: m.HostID, JoinedAt: m.JoinedAt, States: []PairStateView{}}
		for _, other := range members {
			if other.HostID == m.HostID {
				continue
			}
			st, ok := g.ConnectionState(m.HostID, other.HostID)
			if !ok {
				continue
			}
			mv.States = append(mv.States, PairStateView{
				OtherHostID:      other.HostID,
				EventID:          st.EventID,
				IsJoined:         st.IsJoined,
				HolepunchSuccess: st.HolepunchSuccess,
				JitTriggered:     st.JitTriggered,
			})
		}
		view.Members = append(view.Members, mv)
	}
	return view
}

func mapError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrGroupNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "group not found")
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "session not found")
	case stderrors.Is(err, domain.ErrNotMember):
		return errors.Wrap(err, errors.CodeNotFound, "host is not a member of the group")
	case stderrors.Is(err, domain.ErrGroupExists),
		stderrors.Is(err, domain.ErrAlreadyMember),
		stderrors.Is(err, domain.ErrAlreadyInGroup):
		return errors.Wrap(err, errors.CodeConflict, err.Error())
	case stderrors.Is(err, domain.ErrSelfPair):
		return errors.Wrap(err, errors.CodeInvalidInput, err.Error())
	default:
		return errors.Internal(err)
	}
}
