package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Factory builds the breaker protecting the named dependency.
type Factory func(name string) Breaker

// Group hands out one breaker per name, so failures of one channel never
// affect another's breaker.
type Group struct {
	mu       sync.Mutex
	factory  Factory
	breakers map[string]Breaker
}

func NewGroup(factory Factory) *Group {
	return &Group{
		factory:  factory,
		breakers: make(map[string]Breaker),
	}
}

// LocalFactory builds in-process breakers sharing base settings.
func LocalFactory(base Settings) Factory {
	return func(name string) Breaker {
		s := base
		s.Name = name
		return NewLocal(s)
	}
}

func (g *Group) Get(name string) Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := g.factory(name)
	g.breakers[name] = b
	return b
}

// States reports the state of every breaker created so far.
func (g *Group) States(ctx context.Context) map[string]State {
	g.mu.Lock()
	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	g.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]State, len(names))
	for _, name := range names {
		out[name] = g.Get(name).State(ctx)
	}
	return out
}

// SharedFactory builds Redis-backed breakers so every worker process sees
// the same state per channel.
func SharedFactory(rdb redis.UniversalClient, base Settings, opts ...SharedOption) Factory {
	return func(name string) Breaker {
		s := base
		s.Name = name
		return NewShared(rdb, s, opts...)
	}
}
