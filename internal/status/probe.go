package status

import (
	"context"
	"time"

	"github.com/matheus3301/canteiro/internal/remote"
	"go.uber.org/zap"
)

// HealthChecker reports the health of the remote service.
type HealthChecker interface {
	Status(ctx context.Context) (remote.ServiceStatus, error)
}

// Prober polls the remote service and flips the machine between READY and
// DEGRADED. Other states are driven by lifecycle events and left alone.
type Prober struct {
	checker  HealthChecker
	machine  *Machine
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewProber creates a prober that checks every interval.
func NewProber(checker HealthChecker, machine *Machine, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Prober{checker: checker, machine: machine, interval: interval, logger: logger}
}

// Start begins polling.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops polling.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Probe runs a single health check.
func (p *Prober) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	st, err := p.checker.Status(ctx)
	healthy := err == nil && st.Connected
	switch cur := p.machine.Current(); {
	case cur == Ready && !healthy:
		p.logger.Warn("remote service unhealthy", zap.Error(err), zap.String("remote_state", st.State))
		_ = p.machine.Transition(Degraded)
	case cur == Degraded && healthy:
		p.logger.Info("remote service recovered")
		_ = p.machine.Transition(Ready)
	}
}
