package channels

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
)

// Constructor builds a channel from static configuration. It fails when
// required settings such as tokens or hosts are missing.
type Constructor func() (Channel, error)

// OptionsBuilder derives send options from a stored notification.
type OptionsBuilder func(n *models.Notification) Options

type Registration struct {
	Name    string
	New     Constructor
	Options OptionsBuilder
}

// Registry is the closed table of channels known to the process. Entries are
// registered at start-up; instances are built on first use and cached.
type Registry struct {
	mu        sync.RWMutex
	regs      map[string]Registration
	instances map[string]Channel
	log       *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.WithModule("channels")
	}
	return &Registry{
		regs:      make(map[string]Registration),
		instances: make(map[string]Channel),
		log:       log,
	}
}

func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || reg.New == nil {
		return fmt.Errorf("channels: registration needs a name and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[reg.Name]; exists {
		return fmt.Errorf("channels: %q already registered", reg.Name)
	}
	r.regs[reg.Name] = reg
	r.log.Info("channel registered", zap.String("channel", reg.Name))
	return nil
}

// Resolve returns the channel registered under name. Unknown names yield
// ErrUnknownChannel and constructor failures ErrChannelMisconfigured; both
// are per-notification failures.
func (r *Registry) Resolve(name string) (Channel, error) {
	r.mu.RLock()
	ch, ok := r.instances[name]
	r.mu.RUnlock()
	if ok {
		return ch, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.instances[name]; ok {
		return ch, nil
	}
	reg, ok := r.regs[name]
	if !ok {
		return nil, apperrors.ErrUnknownChannel.WithInternal(fmt.Errorf("channel %q is not registered", name))
	}
	ch, err := reg.New()
	if err != nil {
		r.log.Error("channel construction failed", zap.String("channel", name), zap.Error(err))
		return nil, apperrors.ErrChannelMisconfigured.WithInternal(fmt.Errorf("channel %q: %w", name, err))
	}
	r.instances[name] = ch
	return ch, nil
}

// Options runs the channel's options builder, if it has one.
func (r *Registry) Options(name string, n *models.Notification) Options {
	r.mu.RLock()
	reg, ok := r.regs[name]
	r.mu.RUnlock()
	if !ok || reg.Options == nil {
		return Options{}
	}
	return reg.Options(n)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.regs))
	for name := range r.regs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
