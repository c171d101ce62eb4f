// Package heartbeat implements the connection liveness probe. The
// monitor runs on its own goroutine, insulated from the message-handling
// path, and talks to its host purely over channels: status snapshots in,
// beat/reload signals out. It is a probe, not an RPC; no reply is
// correlated; its job is to keep the socket active and to notice local
// status degradation.
package heartbeat

import (
	"time"

	"pigeon/internal/transport"

	"go.uber.org/zap"
)

// DefaultInterval is the probe cadence while the socket is open.
const DefaultInterval = 20 * time.Second

// SignalType discriminates monitor output.
type SignalType int

const (
	// SignalBeat asks the host to send one heartbeat frame now. The
	// host re-validates that the connection is still Open first.
	SignalBeat SignalType = iota
	// SignalReload asks the host to rebuild the connection.
	SignalReload
)

// Signal is one monitor-to-host message.
type Signal struct {
	Type    SignalType
	Elapsed time.Duration // time since the previous beat, for SignalBeat
}

// Monitor watches the connection status it is fed and emits heartbeat
// signals at a fixed interval while the status stays Open.
type Monitor struct {
	interval time.Duration
	statusCh chan transport.Status
	signals  chan Signal
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewMonitor creates a monitor. A zero interval falls back to
// DefaultInterval.
func NewMonitor(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		interval: interval,
		statusCh: make(chan transport.Status, 8),
		signals:  make(chan Signal, 8),
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Signals returns the monitor-to-host signal channel.
func (m *Monitor) Signals() <-chan Signal { return m.signals }

// SetStatus posts a connection status snapshot to the monitor. Never
// blocks; if the monitor is behind, the newest snapshot wins on the
// next receive.
func (m *Monitor) SetStatus(s transport.Status) {
	select {
	case m.statusCh <- s:
	case <-m.stopCh:
	default:
	}
}

// Start launches the monitor goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop terminates the monitor. Idempotent is not required; call once.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	var (
		ticker   *time.Ticker
		tickCh   <-chan time.Time
		lastBeat = time.Now()
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickCh = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case status := <-m.statusCh:
			if status != transport.Open {
				// Degraded connection: stop probing, demand a reload.
				stopTicker()
				m.emit(Signal{Type: SignalReload})
				continue
			}
			m.logger.Debug("heartbeat monitor armed", zap.Duration("interval", m.interval))
			stopTicker()
			lastBeat = time.Now()
			ticker = time.NewTicker(m.interval)
			tickCh = ticker.C
		case now := <-tickCh:
			elapsed := now.Sub(lastBeat)
			lastBeat = now
			m.emit(Signal{Type: SignalBeat, Elapsed: elapsed})
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) emit(s Signal) {
	select {
	case m.signals <- s:
	default:
		m.logger.Warn("heartbeat signal dropped, host not draining")
	}
}
