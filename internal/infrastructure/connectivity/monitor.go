// Package connectivity watches reachability of an external probe address
// and pushes offline-to-online transitions to subscribers.
package connectivity

import (
	"net"
	"sync"
	"time"

	"viewmux/internal/core/ports"

	"go.uber.org/zap"
)

// Config tunes the reachability probe.
type Config struct {
	ProbeAddress  string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Monitor periodically dials the probe address. Subscribers are notified
// only on the offline-to-online edge; steady online state is silent.
type Monitor struct {
	cfg    Config
	dial   func(addr string, timeout time.Duration) error
	logger *zap.SugaredLogger

	mu        sync.Mutex
	online    bool
	listeners map[int]func()
	nextID    int
	stop      chan struct{}
	stopOnce  sync.Once
}

var _ ports.ConnectivityNotifier = (*Monitor)(nil)

func NewMonitor(cfg Config, logger *zap.SugaredLogger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Monitor{
		cfg: cfg,
		dial: func(addr string, timeout time.Duration) error {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		logger:    logger,
		online:    true,
		listeners: make(map[int]func()),
		stop:      make(chan struct{}),
	}
}

// Start launches the probe loop. Call Stop to end it.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop ends the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a restoration listener and returns its unsubscribe
// func. Listeners fire once per offline-to-online transition.
func (m *Monitor) Subscribe(fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	err := m.dial(m.cfg.ProbeAddress, m.cfg.ProbeTimeout)
	nowOnline := err == nil

	m.mu.Lock()
	wasOnline := m.online
	m.online = nowOnline

	var fns []func()
	if nowOnline && !wasOnline {
		fns = make([]func(), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if !nowOnline && wasOnline && m.logger != nil {
		m.logger.Warnw("connectivity lost", "probe_address", m.cfg.ProbeAddress, "error", err)
	}
	if len(fns) > 0 {
		if m.logger != nil {
			m.logger.Infow("connectivity restored", "probe_address", m.cfg.ProbeAddress)
		}
		for _, fn := range fns {
			fn()
		}
	}
}
