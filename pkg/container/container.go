// Package container is a small service registry keyed by Go type.
//
// An application binds each capability it exposes (exception handler, HTTP
// client, database, ...) once at bootstrap; tests swap individual bindings to
// replace a collaborator for the duration of a test.
package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrNotBound is returned when nothing is bound for the requested key
var ErrNotBound = errors.New("service not bound")

// Recipe builds a new instance of a service. It may resolve other services
// from the container it is given.
type Recipe func(c *Container) (any, error)

type bindingKind int

const (
	kindInstance bindingKind = iota
	kindRecipe
	kindSingleton
)

type binding struct {
	kind     bindingKind
	instance any
	recipe   Recipe
	resolved bool
}

// Container maps service keys to providers. It is safe for concurrent use.
type Container struct {
	mu       sync.RWMutex
	bindings map[reflect.Type]*binding
}

// New returns an empty container
func New() *Container {
	return &Container{bindings: make(map[reflect.Type]*binding)}
}

// Key returns the lookup key for T. Interface types are keyed by the
// interface itself, not by any implementation.
func Key[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Instance binds key to a fixed value, replacing any earlier binding
func (c *Container) Instance(key reflect.Type, v any) {
	c.set(key, &binding{kind: kindInstance, instance: v})
}

// Bind binds key to a recipe that runs on every resolution, replacing any
// earlier binding
func (c *Container) Bind(key reflect.Type, recipe Recipe) {
	c.set(key, &binding{kind: kindRecipe, recipe: recipe})
}

// Singleton binds key to a recipe that runs once; later resolutions return
// the first result
func (c *Container) Singleton(key reflect.Type, recipe Recipe) {
	c.set(key, &binding{kind: kindSingleton, recipe: recipe})
}

func (c *Container) set(key reflect.Type, b *binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[key] = b
}

// Make resolves key
func (c *Container) Make(key reflect.Type) (any, error) {
	c.mu.RLock()
	b, ok := c.bindings[key]
	var (
		kind     bindingKind
		instance any
		resolved bool
		recipe   Recipe
	)
	if ok {
		kind, instance, resolved, recipe = b.kind, b.instance, b.resolved, b.recipe
	}
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, key)
	}
	if kind == kindInstance || (kind == kindSingleton && resolved) {
		return instance, nil
	}

	// Recipes run unlocked so they can resolve their own dependencies
	v, err := recipe(c)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", key, err)
	}

	if kind == kindSingleton {
		c.mu.Lock()
		// A rebinding while the recipe ran wins over this result
		if current := c.bindings[key]; current == b {
			if b.resolved {
				v = b.instance
			} else {
				b.instance, b.resolved = v, true
			}
		}
		c.mu.Unlock()
	}
	return v, nil
}

// Bound reports whether anything is bound for key
func (c *Container) Bound(key reflect.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bindings[key]
	return ok
}

// Forget removes the binding for key
func (c *Container) Forget(key reflect.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, key)
}

// Reset removes every binding
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = make(map[reflect.Type]*binding)
}

// ProvideInstance binds T to v
func ProvideInstance[T any](c *Container, v T) {
	c.Instance(Key[T](), v)
}

// Provide binds T to a recipe that runs on every resolution
func Provide[T any](c *Container, fn func(c *Container) (T, error)) {
	c.Bind(Key[T](), func(c *Container) (any, error) { return fn(c) })
}

// ProvideSingleton binds T to a recipe that runs once
func ProvideSingleton[T any](c *Container, fn func(c *Container) (T, error)) {
	c.Singleton(Key[T](), func(c *Container) (any, error) { return fn(c) })
}

// Resolve returns the service bound for T
func Resolve[T any](c *Container) (T, error) {
	var zero T
	v, err := c.Make(Key[T]())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service bound for %s has type %T", Key[T](), v)
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on error
func MustResolve[T any](c *Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}
