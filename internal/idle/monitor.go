// Package idle implementa el monitor de inactividad del cliente: avisa antes
// de cerrar la sesión y la cierra si no hay actividad.
package idle

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 5 * time.Minute
	DefaultWarningLead = time.Minute
)

type State int

const (
	Active State = iota
	Warning
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Warning:
		return "warning"
	case LoggedOut:
		return "logged_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason indica por qué terminó la sesión.
type Reason string

const (
	ReasonUser Reason = "user"
	ReasonIdle Reason = "idle"
)

// Timer es lo mínimo que el monitor necesita de un timer armado.
type Timer interface {
	Stop() bool
}

// Clock abstrae el tiempo para poder manejarlo en tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Config del monitor. Los valores en cero toman los defaults.
type Config struct {
	Timeout     time.Duration
	WarningLead time.Duration
	Clock       Clock
	// OnWarning recibe el tiempo que queda antes del cierre.
	OnWarning func(remaining time.Duration)
	OnLogout  func(reason Reason)
	Logger    *zap.Logger
}

// Monitor es la máquina de estados Active -> Warning -> LoggedOut. Hay como
// máximo un par de timers vivo; cada rearme detiene el par anterior.
type Monitor struct {
	mu           sync.Mutex
	cfg          Config
	state        State
	started      bool
	lastActivity time.Time
	warnTimer    Timer
	logoutTimer  Timer
	generation   uint64
	notice       string
}

func New(cfg Config) *Monitor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WarningLead <= 0 || cfg.WarningLead >= cfg.Timeout {
		cfg.WarningLead = min(DefaultWarningLead, cfg.Timeout/2)
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg}
}

// Start arranca (o reinicia tras un login nuevo) el monitor en Active.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.state = Active
	m.notice = ""
	m.armLocked()
}

// Activity registra interacción del usuario. En Warning vuelve a Active.
// Después de LoggedOut se ignora.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.state == LoggedOut {
		return
	}
	if m.state == Warning {
		m.cfg.Logger.Debug("idle warning dismissed by activity")
	}
	m.state = Active
	m.armLocked()
}

// StayLoggedIn es la respuesta explícita al aviso.
func (m *Monitor) StayLoggedIn() {
	m.Activity()
}

// Logout cierra la sesión a pedido del usuario.
func (m *Monitor) Logout() {
	m.logout(ReasonUser, m.currentGeneration())
}

// Stop detiene los timers sin cambiar de estado.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
	m.started = false
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// TakeLogoutNotice devuelve el aviso de cierre por inactividad una sola vez.
func (m *Monitor) TakeLogoutNotice() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notice == "" {
		return "", false
	}
	notice := m.notice
	m.notice = ""
	return notice, true
}

func (m *Monitor) armLocked() {
	m.stopTimersLocked()
	m.generation++
	gen := m.generation
	m.lastActivity = m.cfg.Clock.Now()
	m.warnTimer = m.cfg.Clock.AfterFunc(m.cfg.Timeout-m.cfg.WarningLead, func() { m.warn(gen) })
	m.logoutTimer = m.cfg.Clock.AfterFunc(m.cfg.Timeout, func() { m.logout(ReasonIdle, gen) })
}

func (m *Monitor) stopTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}
}

func (m *Monitor) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// warn ignora disparos de un par de timers ya reemplazado.
func (m *Monitor) warn(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != Active {
		m.mu.Unlock()
		return
	}
	m.state = Warning
	m.warnTimer = nil
	onWarning := m.cfg.OnWarning
	lead := m.cfg.WarningLead
	m.mu.Unlock()

	m.cfg.Logger.Info("idle warning", zap.Duration("remaining", lead))
	if onWarning != nil {
		onWarning(lead)
	}
}

func (m *Monitor) logout(reason Reason, gen uint64) {
	m.mu.Lock()
	if !m.started || gen != m.generation || m.state == LoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = LoggedOut
	m.stopTimersLocked()
	if reason == ReasonIdle {
		m.notice = fmt.Sprintf("You were logged out after %s of inactivity.", m.cfg.Timeout)
	}
	onLogout := m.cfg.OnLogout
	m.mu.Unlock()

	m.cfg.Logger.Info("session logged out", zap.String("reason", string(reason)))
	if onLogout != nil {
		onLogout(reason)
	}
}
