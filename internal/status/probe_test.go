package status

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/canteiro/internal/remote"
	"go.uber.org/zap"
)

type mockChecker struct {
	st  remote.ServiceStatus
	err error
}

func (m *mockChecker) Status(ctx context.Context) (remote.ServiceStatus, error) {
	return m.st, m.err
}

func TestProbeDegradesAndRecovers(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)
	checker := &mockChecker{err: errors.New("connection refused")}
	p := NewProber(checker, m, 0, zap.NewNop())

	p.Probe(context.Background())
	if m.Current() != Degraded {
		t.Fatalf("state = %s, want DEGRADED", m.Current())
	}

	checker.err = nil
	checker.st = remote.ServiceStatus{Connected: true}
	p.Probe(context.Background())
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestProbeLeavesOtherStatesAlone(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)
	p := NewProber(&mockChecker{st: remote.ServiceStatus{Connected: true}}, m, 0, zap.NewNop())

	p.Probe(context.Background())
	if m.Current() != Reconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
}

// walkTo moves m to target through valid transitions, failing the test on error.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	if err := m.MoveTo(target); err != nil {
		t.Fatalf("walk to %s: %v", target, err)
	}
}
