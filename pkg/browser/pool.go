package browser

import (
	"sync"

	"github.com/rs/zerolog"
)

// driver is the per-task browsing surface the tools operate on.
type driver interface {
	Navigate(url string) error
	Info() (*PageInfo, error)
	Screenshot() (string, error)
	ClickAt(x, y int) error
	TypeText(text string, pressEnter bool) error
	Scroll(direction string) error
	Close()
}

// Pool lazily launches one browser session per task and closes it when the
// task finishes.
type Pool struct {
	logger zerolog.Logger
	launch func() (driver, error)

	mu       sync.Mutex
	sessions map[string]driver
}

// NewPool creates a new session pool
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		logger:   logger,
		launch:   func() (driver, error) { return newSession() },
		sessions: make(map[string]driver),
	}
}

// get returns the task's session, launching one on first use.
func (p *Pool) get(taskID string) (driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[taskID]; ok {
		return s, nil
	}

	s, err := p.launch()
	if err != nil {
		return nil, err
	}
	p.sessions[taskID] = s

	p.logger.Info().Str("task_id", taskID).Msg("Browser session started")

	return s, nil
}

// Release closes the task's session, if any.
func (p *Pool) Release(taskID string) {
	p.mu.Lock()
	s, ok := p.sessions[taskID]
	delete(p.sessions, taskID)
	p.mu.Unlock()

	if ok {
		s.Close()
		p.logger.Info().Str("task_id", taskID).Msg("Browser session closed")
	}
}

// Close shuts every session down.
func (p *Pool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]driver)
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
