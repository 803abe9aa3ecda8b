package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order.
type Manager struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a resource. Resources registered after Close are closed immediately.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeOne(resource{name: name, closer: closer})
		return
	}
	m.resources = append(m.resources, resource{name: name, closer: closer})
	m.mu.Unlock()
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes everything, last registered first, and joins the errors.
// Every resource is attempted even if earlier ones fail. Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	resources := m.resources
	m.resources = nil
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := m.closeOne(resources[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeOne(res resource) error {
	if err := res.closer.Close(); err != nil {
		m.logger.Error().
			Err(err).
			Str("resource", res.name).
			Msg("lifecycle.close_resource_failed")
		return fmt.Errorf("close %s: %w", res.name, err)
	}
	m.logger.Debug().Str("resource", res.name).Msg("lifecycle.resource_closed")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
