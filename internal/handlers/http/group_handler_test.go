package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
	"p2prelay/internal/core/services"
	"p2prelay/internal/infrastructure/middleware"
	"p2prelay/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type nopNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *nopNotifier) Send(domain.HostID, domain.Message) {
	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
}

func (n *nopNotifier) Close(domain.HostID) {}

type apiEnv struct {
	router   *gin.Engine
	sessions ports.SessionService
	token    string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t).Sugar()
	sessionRepo := memory.NewMemorySessionRepository()
	groups := services.NewGroupService(memory.NewMemoryGroupRepository(), sessionRepo, &nopNotifier{}, nil, logger)
	sessions := services.NewSessionService(sessionRepo, groups, services.NewHostIDAllocator(1), logger)
	auth := services.NewAuthService("test-secret", "test-admin-key", time.Minute)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewAuthHandler(auth, time.Minute).SetupRoutes(router)
	NewGroupHandler(groups, sessions).SetupRoutes(router, middleware.AuthMiddleware(auth))

	token, err := auth.IssueToken("tests", "test-admin-key")
	require.NoError(t, err)

	return &apiEnv{router: router, sessions: sessions, token: token}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) connect(t *testing.T) domain.HostID {
	t.Helper()
	s, err := e.sessions.Connect(context.Background(), "192.0.2.1:4000")
	require.NoError(t, err)
	return s.HostID
}

func TestAuthHandler_IssueToken(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodPost, "/auth/token", TokenRequest{Subject: "ops", AdminKey: "test-admin-key"})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "Bearer", body["token_type"])

	w = e.do(t, http.MethodPost, "/auth/token", TokenRequest{Subject: "ops", AdminKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/auth/token", map[string]string{"subject": "ops"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGroupHandler_RequiresAuth(t *testing.T) {
	e := newAPIEnv(t)
	e.token = "bogus"

	w := e.do(t, http.MethodGet, "/api/v1/groups", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGroupHandler_Lifecycle(t *testing.T) {
	e := newAPIEnv(t)
	h1, h2 := e.connect(t), e.connect(t)

	w := e.do(t, http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "lobby"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "lobby"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/groups/lobby/members", AddMemberRequest{HostID: uint64(h1)}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/groups/lobby/members", AddMemberRequest{HostID: uint64(h2)}).Code)

	w = e.do(t, http.MethodGet, "/api/v1/groups/lobby", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Group GroupView `json:"group"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Group.Members, 2)
	require.Len(t, got.Group.Members[0].States, 1)
	assert.Equal(t, h2, got.Group.Members[0].States[0].OtherHostID)
	assert.False(t, got.Group.Members[0].States[0].IsJoined)

	w = e.do(t, http.MethodPost, "/api/v1/groups/lobby/pairs/reissue", ReissuePairRequest{HostA: uint64(h1), HostB: uint64(h2)})
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions struct {
		Sessions []SessionView `json:"sessions"`
		Count    int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Equal(t, 2, sessions.Count)
	assert.Equal(t, domain.GroupID("lobby"), sessions.Sessions[0].GroupID)

	w = e.do(t, http.MethodDelete, "/api/v1/groups/lobby/members/"+strconv.FormatUint(uint64(h1), 10), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/groups/lobby", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/groups/lobby", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGroupHandler_Validation(t *testing.T) {
	e := newAPIEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"bad group id", http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "no spaces"}, http.StatusBadRequest},
		{"missing host", http.MethodPost, "/api/v1/groups/x/members", map[string]int{}, http.StatusBadRequest},
		{"unknown group", http.MethodPost, "/api/v1/groups/x/members", AddMemberRequest{HostID: 5}, http.StatusNotFound},
		{"self pair", http.MethodPost, "/api/v1/groups/x/pairs/reissue", ReissuePairRequest{HostA: 1, HostB: 1}, http.StatusBadRequest},
		{"bad host param", http.MethodDelete, "/api/v1/groups/x/members/abc", nil, http.StatusBadRequest},
		{"unknown group delete", http.MethodDelete, "/api/v1/groups/x", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGroupHandler_AlreadyInGroup(t *testing.T) {
	e := newAPIEnv(t)
	h := e.connect(t)

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "a"}).Code)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "b"}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/groups/a/members", AddMemberRequest{HostID: uint64(h)}).Code)

	w := e.do(t, http.MethodPost, "/api/v1/groups/b/members", AddMemberRequest{HostID: uint64(h)})
	assert.Equal(t, http.StatusConflict, w.Code)
}
