package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"p2prelay/internal/core/domain"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/stun"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultReadBuffer = 1500
	defaultReforward  = time.Second
	seenTokens        = 4096

	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// TokenHandler receives the holepunch token carried in a binding request's
// USERNAME together with the address the request arrived from.
type TokenHandler func(ctx context.Context, token domain.HolepunchToken, observed domain.Endpoint)

type Config struct {
	PublicAddress string
	BindHost      string
	// Ports to bind. When empty, SocketCount ephemeral ports are used.
	Ports       []uint16
	SocketCount int
	ReadBuffer  int

	// A repeated probe from the same endpoint is forwarded again once this
	// much time has passed, so a client whose ack was lost can recover.
	ReforwardInterval time.Duration
}

type forwarded struct {
	from netip.AddrPort
	at   time.Time
}

// SocketPool owns the relay's UDP sockets and hands them out round-robin.
type SocketPool struct {
	cfg     Config
	public  netip.Addr
	handler TokenHandler
	logger  *zap.SugaredLogger

	// Last endpoint forwarded per token. Clients repeat binding requests
	// while punching; the same endpoint is forwarded at most once per
	// ReforwardInterval.
	seen *lru.Cache[domain.HolepunchToken, forwarded]
	now  func() time.Time

	mu      sync.RWMutex
	conns   []*net.UDPConn
	sockets []domain.RelaySocket

	next    atomic.Uint64
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewSocketPool(cfg Config, handler TokenHandler, logger *zap.SugaredLogger) (*SocketPool, error) {
	public, err := netip.ParseAddr(cfg.PublicAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid public address %q: %w", cfg.PublicAddress, err)
	}
	if len(cfg.Ports) == 0 && cfg.SocketCount <= 0 {
		return nil, errors.New("relay pool needs ports or a socket count")
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = defaultReadBuffer
	}
	if cfg.ReforwardInterval <= 0 {
		cfg.ReforwardInterval = defaultReforward
	}

	seen, err := lru.New[domain.HolepunchToken, forwarded](seenTokens)
	if err != nil {
		return nil, err
	}

	return &SocketPool{
		cfg:     cfg,
		public:  public,
		handler: handler,
		logger:  logger,
		seen:    seen,
		now:     time.Now,
	}, nil
}

// Start binds every socket and launches one read loop per socket. On any
// bind failure the sockets bound so far are closed.
func (p *SocketPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	ports := p.cfg.Ports
	if len(ports) == 0 {
		ports = make([]uint16, p.cfg.SocketCount)
	}

	conns := make([]*net.UDPConn, 0, len(ports))
	sockets := make([]domain.RelaySocket, 0, len(ports))
	for _, port := range ports {
		addr := net.JoinHostPort(p.cfg.BindHost, fmt.Sprint(port))
		laddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			_ = closeAll(conns)
			return fmt.Errorf("failed to resolve %s: %w", addr, err)
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			_ = closeAll(conns)
			return fmt.Errorf("failed to bind relay socket %s: %w", addr, err)
		}
		conns = append(conns, conn)
		sockets = append(sockets, domain.RelaySocket{
			Port: uint16(conn.LocalAddr().(*net.UDPAddr).Port),
		})
	}

	p.conns = conns
	p.sockets = sockets
	p.running.Store(true)

	for _, conn := range conns {
		p.wg.Add(1)
		go p.readLoop(conn)
	}

	p.logger.Infow("relay socket pool started",
		"public_address", p.public.String(),
		"sockets", len(sockets),
	)
	return nil
}

// Close stops the read loops and releases every socket.
func (p *SocketPool) Close() error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	conns := p.conns
	p.conns = nil
	p.sockets = nil
	p.mu.Unlock()

	err := closeAll(conns)
	p.wg.Wait()
	p.seen.Purge()

	p.logger.Info("relay socket pool stopped")
	return err
}

func (p *SocketPool) IsRunning() bool {
	return p.running.Load()
}

func (p *SocketPool) PublicAddress() netip.Addr {
	return p.public
}

// NextSocket returns the next socket in rotation.
func (p *SocketPool) NextSocket() (domain.RelaySocket, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return domain.RelaySocket{}, domain.ErrPoolNotRunning
	}
	if len(p.sockets) == 0 {
		return domain.RelaySocket{}, domain.ErrPoolEmpty
	}
	i := p.next.Add(1) - 1
	return p.sockets[i%uint64(len(p.sockets))], nil
}

// Sockets returns the bound sockets in bind order.
func (p *SocketPool) Sockets() []domain.RelaySocket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.RelaySocket(nil), p.sockets...)
}

func (p *SocketPool) readLoop(conn *net.UDPConn) {
	defer p.wg.Done()

	buf := make([]byte, p.cfg.ReadBuffer)
	var backoff readBackoff
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !p.running.Load() {
				return
			}
			delay := backoff.next()
			p.logger.Warnw("relay socket read failed",
				"local", conn.LocalAddr().String(),
				"retry_in", delay,
				"error", err,
			)
			time.Sleep(delay)
			continue
		}
		backoff.reset()
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		p.handleBinding(conn, buf[:n], from)
	}
}

func (p *SocketPool) handleBinding(conn *net.UDPConn, packet []byte, from netip.AddrPort) {
	req := new(stun.Message)
	req.Raw = append(req.Raw[:0], packet...)
	if err := req.Decode(); err != nil {
		p.logger.Debugw("malformed STUN message", "from", from.String(), "error", err)
		return
	}
	if req.Type != stun.BindingRequest {
		return
	}

	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	res, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: from.Addr().AsSlice(), Port: int(from.Port())},
		stun.Fingerprint,
	)
	if err != nil {
		p.logger.Warnw("failed to build binding response", "error", err)
		return
	}
	if _, err := conn.WriteToUDPAddrPort(res.Raw, from); err != nil {
		p.logger.Debugw("failed to send binding response", "to", from.String(), "error", err)
	}

	var username stun.Username
	if err := username.GetFrom(req); err != nil {
		return
	}
	token, err := uuid.Parse(username.String())
	if err != nil {
		p.logger.Debugw("binding request with foreign username", "from", from.String())
		return
	}
	now := p.now()
	if prev, ok := p.seen.Get(token); ok && prev.from == from && now.Sub(prev.at) < p.cfg.ReforwardInterval {
		return
	}
	p.seen.Add(token, forwarded{from: from, at: now})

	if p.handler != nil {
		p.handler(context.Background(), token, from)
	}
}

func closeAll(conns []*net.UDPConn) error {
	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// readBackoff doubles the pause between failed reads up to maxReadBackoff.
type readBackoff struct {
	delay time.Duration
}

func (b *readBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minReadBackoff
	} else if b.delay < maxReadBackoff {
		b.delay *= 2
		if b.delay > maxReadBackoff {
			b.delay = maxReadBackoff
		}
	}
	return b.delay
}

func (b *readBackoff) reset() {
	b.delay = 0
}
