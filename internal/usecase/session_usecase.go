package usecase

import (
	"sync"
	"time"

	"carconnect/internal/domain/entity"
	"carconnect/pkg/logger"
)

type SessionMonitorOptions struct {
	Timeout          time.Duration
	WarningThreshold time.Duration
	PollInterval     time.Duration
}

// SessionMonitor tracks user inactivity. Any recorded activity pushes
// the forced-logout deadline out by the full timeout; a periodic tick
// raises the warning flag once per threshold crossing. When the deadline
// fires the logout callback runs exactly once and the monitor stops
// until StartSession is called again.
type SessionMonitor struct {
	timeout          time.Duration
	warningThreshold time.Duration
	pollInterval     time.Duration
	now              func() time.Time

	mu           sync.Mutex
	active       bool
	generation   int
	lastActivity time.Time
	warned       bool
	onLogout     func()
	logoutTimer  *time.Timer
	stopTick     chan struct{}
	subscribers  map[int]func(entity.SessionState)
	nextSub      int
}

func NewSessionMonitor(opts SessionMonitorOptions) *SessionMonitor {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Minute
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}

	return &SessionMonitor{
		timeout:          opts.Timeout,
		warningThreshold: opts.WarningThreshold,
		pollInterval:     opts.PollInterval,
		now:              time.Now,
		subscribers:      make(map[int]func(entity.SessionState)),
	}
}

// StartSession arms the monitor. Calling it while a session is active
// restarts the clock for the new session.
func (m *SessionMonitor) StartSession(onLogout func()) {
	m.mu.Lock()
	m.stopLocked()
	m.active = true
	m.generation++
	generation := m.generation
	m.lastActivity = m.now()
	m.warned = false
	m.onLogout = onLogout
	m.logoutTimer = time.AfterFunc(m.timeout, func() { m.expire(generation) })
	m.stopTick = make(chan struct{})
	stop := m.stopTick
	m.mu.Unlock()

	go m.tickLoop(generation, stop)
	m.publish()
}

// RecordActivity resets the inactivity clock and clears the warning
// flag. Ignored when no session is active.
func (m *SessionMonitor) RecordActivity() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.lastActivity = m.now()
	m.warned = false
	m.logoutTimer.Reset(m.timeout)
	m.mu.Unlock()

	// The reset moves LastActivity and Remaining, so subscribers hear
	// about every activity, not just warning clears.
	m.publish()
}

// EndSession stops the monitor without invoking the logout callback.
func (m *SessionMonitor) EndSession() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	m.mu.Unlock()

	m.publish()
}

func (m *SessionMonitor) State() entity.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe calls fn immediately with the current state, then on every
// change, and returns the unsubscribe function.
func (m *SessionMonitor) Subscribe(fn func(entity.SessionState)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	state := m.stateLocked()
	m.mu.Unlock()

	fn(state)

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *SessionMonitor) tickLoop(generation int, stop chan struct{}) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick(generation)
		}
	}
}

func (m *SessionMonitor) tick(generation int) {
	m.mu.Lock()
	if !m.active || generation != m.generation {
		m.mu.Unlock()
		return
	}
	remaining := m.timeout - m.now().Sub(m.lastActivity)
	crossed := remaining <= m.warningThreshold && remaining > 0 && !m.warned
	if crossed {
		m.warned = true
	}
	m.mu.Unlock()

	if crossed {
		logger.Warn("Session expires in %s", remaining.Round(time.Second))
		m.publish()
	}
}

func (m *SessionMonitor) expire(generation int) {
	m.mu.Lock()
	if !m.active || generation != m.generation {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	onLogout := m.onLogout
	m.mu.Unlock()

	logger.Info("Session expired after inactivity")
	m.publish()
	if onLogout != nil {
		onLogout()
	}
}

// stopLocked halts timers and marks the session inactive. Caller holds
// the mutex.
func (m *SessionMonitor) stopLocked() {
	m.active = false
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

func (m *SessionMonitor) stateLocked() entity.SessionState {
	state := entity.SessionState{
		Active:       m.active,
		LastActivity: m.lastActivity,
		Warning:      m.warned,
	}
	if m.active {
		state.Remaining = m.timeout - m.now().Sub(m.lastActivity)
		if state.Remaining < 0 {
			state.Remaining = 0
		}
	}
	return state
}

func (m *SessionMonitor) publish() {
	m.mu.Lock()
	state := m.stateLocked()
	subs := make([]func(entity.SessionState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
