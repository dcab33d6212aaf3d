// Package factory builds gorm model fixtures from named definitions.
//
// A definition supplies default attributes for each new record; callers
// override any of them per call. Create persists the records, Make only
// builds them.
package factory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/drallgood/apptest/internal/logger"
)

var (
	ErrUnknownFactory   = errors.New("no factory defined")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrInvalidCount     = errors.New("record count must not be negative")
	ErrNoDatabase       = errors.New("registry has no database")
)

// Attributes maps a column name or Go field name to a value
type Attributes map[string]any

// DefaultsFunc returns default attributes for the seq-th record built by a
// definition. seq starts at 1.
type DefaultsFunc func(seq int) Attributes

// Definition describes how to build one kind of model
type Definition struct {
	// Name is the key fixtures are requested by
	Name string
	// New returns a pointer to a new zero model
	New func() any
	// Defaults may be nil
	Defaults DefaultsFunc
}

type entry struct {
	def Definition
	seq int
}

// Registry holds factory definitions and the database fixtures are written to
type Registry struct {
	mu      sync.Mutex
	db      *gorm.DB
	defs    map[string]*entry
	schemas sync.Map
	log     *logger.Logger
}

// NewRegistry returns an empty registry writing to db. A nil db gives a
// registry that can only Make.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{
		db:   db,
		defs: make(map[string]*entry),
		log:  logger.Get(),
	}
}

// WithLogger sets the logger used for fixture events
func (r *Registry) WithLogger(log *logger.Logger) *Registry {
	r.log = log
	return r
}

// Define adds def, replacing any definition with the same name
func (r *Registry) Define(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("factory definition requires a name")
	}
	if def.New == nil {
		return fmt.Errorf("factory %q requires a model constructor", def.Name)
	}
	if v := reflect.ValueOf(def.New()); v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("factory %q constructor must return a non-nil struct pointer, got %T", def.Name, def.New())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = &entry{def: def}
	return nil
}

// Register defines a factory for T under T's type name
func Register[T any](r *Registry, defaults DefaultsFunc) error {
	return r.Define(Definition{
		Name:     nameOf[T](),
		New:      func() any { return new(T) },
		Defaults: defaults,
	})
}

// RegisterModel defines a factory named after model's struct type. model is
// only used for its type and may be a value or a pointer.
func (r *Registry) RegisterModel(model any, defaults DefaultsFunc) error {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("cannot register factory for %T: not a struct", model)
	}
	return r.Define(Definition{
		Name:     t.Name(),
		New:      func() any { return reflect.New(t).Interface() },
		Defaults: defaults,
	})
}

// Defined reports whether a factory exists for name
func (r *Registry) Defined(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns the defined factory names in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds count records of name with attrs over the defaults and
// persists them in one transaction. A count of 1 returns the model pointer;
// any other count returns []any in creation order.
func (r *Registry) Create(ctx context.Context, name string, attrs Attributes, count int) (any, error) {
	models, err := r.create(ctx, name, attrs, count)
	if err != nil {
		return nil, err
	}
	return shape(models, count), nil
}

// Make is like Create but never touches the database
func (r *Registry) Make(ctx context.Context, name string, attrs Attributes, count int) (any, error) {
	models, err := r.build(ctx, name, attrs, count)
	if err != nil {
		return nil, err
	}
	return shape(models, count), nil
}

func shape(models []any, count int) any {
	if count == 1 {
		return models[0]
	}
	return models
}

func (r *Registry) create(ctx context.Context, name string, attrs Attributes, count int) ([]any, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}

	models, err := r.build(ctx, name, attrs, count)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return models, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range models {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug("Fixtures created", map[string]interface{}{
		"factory": name,
		"count":   len(models),
	})
	return models, nil
}

func (r *Registry) build(ctx context.Context, name string, attrs Attributes, count int) ([]any, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	r.mu.Lock()
	e, ok := r.defs[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFactory, name)
	}
	first := e.seq + 1
	e.seq += count
	def := e.def
	r.mu.Unlock()

	models := make([]any, 0, count)
	for i := 0; i < count; i++ {
		m, err := r.buildOne(ctx, def, first+i, attrs)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (r *Registry) buildOne(ctx context.Context, def Definition, seq int, overrides Attributes) (any, error) {
	model := def.New()
	sch, err := schema.Parse(model, &r.schemas, r.namer())
	if err != nil {
		return nil, fmt.Errorf("failed to parse model for factory %q: %w", def.Name, err)
	}

	// Keys resolve to fields before merging so a column name and a field name
	// for the same field count as one attribute.
	values := make(map[*schema.Field]any)
	var order []*schema.Field
	assign := func(attrs Attributes) error {
		for k, v := range attrs {
			field := sch.LookUpField(k)
			if field == nil {
				return fmt.Errorf("%w %q for factory %q", ErrUnknownAttribute, k, def.Name)
			}
			if _, seen := values[field]; !seen {
				order = append(order, field)
			}
			values[field] = v
		}
		return nil
	}
	if def.Defaults != nil {
		if err := assign(def.Defaults(seq)); err != nil {
			return nil, err
		}
	}
	if err := assign(overrides); err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(model).Elem()
	for _, field := range order {
		if err := field.Set(ctx, rv, values[field]); err != nil {
			return nil, fmt.Errorf("failed to set %q for factory %q: %w", field.Name, def.Name, err)
		}
	}

	if pk := sch.PrioritizedPrimaryField; pk != nil && pk.FieldType.Kind() == reflect.String {
		if _, zero := pk.ValueOf(ctx, rv); zero {
			if err := pk.Set(ctx, rv, uuid.NewString()); err != nil {
				return nil, fmt.Errorf("failed to assign primary key for factory %q: %w", def.Name, err)
			}
		}
	}
	return model, nil
}

func (r *Registry) namer() schema.Namer {
	if r.db != nil && r.db.NamingStrategy != nil {
		return r.db.NamingStrategy
	}
	return schema.NamingStrategy{}
}

func nameOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}
