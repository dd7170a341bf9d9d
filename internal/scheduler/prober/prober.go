package prober

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/metrics"
)

const DefaultProbeTimeout = 10 * time.Second

// Prober answers whether a worker is reachable right now. Implementations
// are pure predicates: an unreachable worker or an expired timeout yields
// false, never an error, and the prober itself writes no state.
type Prober interface {
	Probe(ctx context.Context, worker *domain.Worker) bool
}

// ProbeFunc adapts a plain function to the Prober interface.
type ProbeFunc func(ctx context.Context, worker *domain.Worker) bool

func (f ProbeFunc) Probe(ctx context.Context, worker *domain.Worker) bool {
	return f(ctx, worker)
}

// TCPProber checks liveness with a TCP dial to the worker's address. The
// production predecessor did an SSH round-trip; a dial round-trip keeps the
// same bounded-timeout contract without dragging in shell connectivity.
type TCPProber struct {
	timeout time.Duration
}

func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TCPProber{timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context, worker *domain.Worker) bool {
	start := time.Now()
	defer func() {
		metrics.ObserveProbeDuration(time.Since(start))
	}()

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", worker.Address())
	if err != nil {
		log.WithField("worker", worker.Name).Debugf("probe of %s failed: %v", worker.Address(), err)
		return false
	}
	_ = conn.Close()
	return true
}
