package services

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
	"p2prelay/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentMessage struct {
	To  domain.HostID
	Msg domain.Message
}

// recordingNotifier captures every outbound message in send order.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sentMessage
	closed []domain.HostID
}

func (n *recordingNotifier) Send(hostID domain.HostID, msg domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: hostID, Msg: msg})
}

func (n *recordingNotifier) Close(hostID domain.HostID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, hostID)
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

// to returns the messages addressed to hostID whose type is msgType.
func (n *recordingNotifier) to(hostID domain.HostID, msgType string) []domain.Message {
	var out []domain.Message
	for _, m := range n.messages() {
		if m.To == hostID && m.Msg.MessageType() == msgType {
			out = append(out, m.Msg)
		}
	}
	return out
}

type stubPool struct {
	mu      sync.Mutex
	running bool
	ports   []uint16
	next    int
}

func (p *stubPool) NextSocket() (domain.RelaySocket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return domain.RelaySocket{}, domain.ErrPoolNotRunning
	}
	if len(p.ports) == 0 {
		return domain.RelaySocket{}, domain.ErrPoolEmpty
	}
	port := p.ports[p.next%len(p.ports)]
	p.next++
	return domain.RelaySocket{Port: port}, nil
}

func (p *stubPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *stubPool) PublicAddress() netip.Addr {
	return netip.MustParseAddr("203.0.113.7")
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishMemberJoined(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	args := m.Called(ctx, groupID, hostID)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishMemberLeft(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	args := m.Called(ctx, groupID, hostID)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishDirectEstablished(ctx context.Context, groupID domain.GroupID, pair domain.PairKey) error {
	args := m.Called(ctx, groupID, pair)
	return args.Error(0)
}

type recordedTransition struct {
	Event      string
	Transition domain.Transition
}

type recordingRecorder struct {
	mu   sync.Mutex
	seen []recordedTransition
}

func (r *recordingRecorder) RecordTransition(event string, t domain.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedTransition{Event: event, Transition: t})
}

type fixture struct {
	sessions     ports.SessionRepository
	groups       ports.GroupRepository
	notifier     *recordingNotifier
	pool         *stubPool
	recorder     *recordingRecorder
	groupSvc     ports.GroupService
	sessionSvc   ports.SessionService
	coordination ports.CoordinationService
}

func newFixture(t *testing.T, events ports.EventPublisher) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	f := &fixture{
		sessions: memory.NewMemorySessionRepository(),
		groups:   memory.NewMemoryGroupRepository(),
		notifier: &recordingNotifier{},
		pool:     &stubPool{running: true, ports: []uint16{40000, 40001}},
		recorder: &recordingRecorder{},
	}
	f.groupSvc = NewGroupService(f.groups, f.sessions, f.notifier, events, logger)
	f.sessionSvc = NewSessionService(f.sessions, f.groupSvc, NewHostIDAllocator(1), logger)
	f.coordination = NewCoordinationService(f.sessions, f.pool, f.notifier, events, f.recorder, logger)
	return f
}

func (f *fixture) connect(t *testing.T) domain.HostID {
	t.Helper()

	session, err := f.sessionSvc.Connect(context.Background(), "192.0.2.10:5000")
	require.NoError(t, err)
	return session.HostID
}

// group creates groupID and adds hosts in order, then clears the notifier.
func (f *fixture) group(t *testing.T, groupID domain.GroupID, hosts ...domain.HostID) *domain.P2PGroup {
	t.Helper()

	ctx := context.Background()
	g, err := f.groupSvc.CreateGroup(ctx, groupID)
	require.NoError(t, err)
	for _, h := range hosts {
		require.NoError(t, f.groupSvc.AddMember(ctx, groupID, h))
	}
	f.notifier.reset()
	return g
}

func eventBetween(t *testing.T, g *domain.P2PGroup, a, b domain.HostID) domain.EventID {
	t.Helper()

	st, ok := g.ConnectionState(a, b)
	require.True(t, ok)
	return st.EventID
}

// hookedSessions runs onGet after each successful lookup, letting a test
// interleave another operation between a lookup and its use.
type hookedSessions struct {
	ports.SessionRepository
	onGet func(id domain.HostID)
}

func (r *hookedSessions) GetByID(ctx context.Context, id domain.HostID) (*domain.Session, error) {
	session, err := r.SessionRepository.GetByID(ctx, id)
	if err == nil && r.onGet != nil {
		hook := r.onGet
		r.onGet = nil
		hook(id)
	}
	return session, err
}
