package monitoring

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
)

type fakePool struct{ running bool }

func (p fakePool) NextSocket() (domain.RelaySocket, error) { return domain.RelaySocket{}, nil }
func (p fakePool) IsRunning() bool                         { return p.running }
func (p fakePool) PublicAddress() netip.Addr               { return netip.IPv4Unspecified() }

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddRelayPoolCheck(fakePool{running: true})
	h.AddRepositoryCheck(memory.NewMemoryGroupRepository(), time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["relay_pool"])
	assert.Equal(t, "healthy", status.Checks["groups"])
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddRelayPoolCheck(fakePool{running: false})
	h.AddCheck("flaky", func(ctx context.Context) (bool, error) {
		return false, nil
	}, time.Second)
	h.AddCheck("broken", func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, errPoolStopped.Error(), status.Checks["relay_pool"])
	assert.Equal(t, "check failed", status.Checks["flaky"])
	assert.Equal(t, "connection refused", status.Checks["broken"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
