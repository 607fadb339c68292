// Package odm ties schemas, documents and the storage driver together into
// models: typed finds with population, change-tracked saves with optimistic
// versioning, and direct updates.
package odm

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gogotex/gogotex/backend/odm/internal/driver"
	"github.com/gogotex/gogotex/backend/odm/internal/populate"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
)

// Options tune population.
type Options struct {
	// PopulateConcurrency bounds the concurrent populate queries, 0 is unbounded.
	PopulateConcurrency int
	// PopulateLimiter paces populate queries when set.
	PopulateLimiter *rate.Limiter
}

// Registry holds the models sharing one driver.
type Registry struct {
	driver    driver.Driver
	populator *populate.Populator

	mu     sync.RWMutex
	models map[string]*Model
}

func NewRegistry(d driver.Driver, opts Options) *Registry {
	r := &Registry{driver: d, models: map[string]*Model{}}
	r.populator = &populate.Populator{
		Resolver:    r,
		Concurrency: opts.PopulateConcurrency,
		Limiter:     opts.PopulateLimiter,
	}
	return r
}

// Register adds a model stored in collection. Registering a name again
// replaces the model.
func (r *Registry) Register(name string, s *schema.Schema, collection string) *Model {
	m := &Model{name: name, collection: collection, schema: s, registry: r}
	r.mu.Lock()
	r.models[name] = m
	r.mu.Unlock()
	return m
}

// Discriminator derives the model tag from base. Its documents share the
// base collection and carry tag in the discriminator key.
func (r *Registry) Discriminator(base, tag string, child *schema.Schema) (*Model, error) {
	bm, err := r.Model(base)
	if err != nil {
		return nil, err
	}
	return r.registerVariant(bm, tag, bm.schema.Discriminator(tag, child)), nil
}

func (r *Registry) registerVariant(base *Model, tag string, s *schema.Schema) *Model {
	m := r.Register(tag, s, base.collection)
	m.tag = tag
	return m
}

// Model returns the named model.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Lookup resolves populate targets.
func (r *Registry) Lookup(name string) (populate.Model, error) {
	m, err := r.Model(name)
	if err != nil {
		return nil, err
	}
	return target{m}, nil
}

// Names lists the registered models, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for n := range r.models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadDefinitions registers compiled YAML definitions and their discriminators.
func (r *Registry) LoadDefinitions(defs []*schema.Definition) {
	for _, def := range defs {
		base := r.Register(def.Name, def.Schema, def.Collection)
		for _, v := range def.Variants {
			r.registerVariant(base, v.Tag, v.Schema)
		}
		logger.Debugf("registered model %s (collection %s, %d discriminator(s))", def.Name, def.Collection, len(def.Variants))
	}
}
