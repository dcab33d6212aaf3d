package factory

import (
	"context"
	"fmt"
)

// CreateOne creates a single T using the factory registered for T
func CreateOne[T any](ctx context.Context, r *Registry, attrs Attributes) (*T, error) {
	models, err := r.create(ctx, nameOf[T](), attrs, 1)
	if err != nil {
		return nil, err
	}
	return assertOne[T](models[0])
}

// CreateMany creates n records of T
func CreateMany[T any](ctx context.Context, r *Registry, attrs Attributes, n int) ([]*T, error) {
	models, err := r.create(ctx, nameOf[T](), attrs, n)
	if err != nil {
		return nil, err
	}
	return assertAll[T](models)
}

// MakeOne builds a single unsaved T
func MakeOne[T any](ctx context.Context, r *Registry, attrs Attributes) (*T, error) {
	models, err := r.build(ctx, nameOf[T](), attrs, 1)
	if err != nil {
		return nil, err
	}
	return assertOne[T](models[0])
}

// MakeMany builds n unsaved records of T
func MakeMany[T any](ctx context.Context, r *Registry, attrs Attributes, n int) ([]*T, error) {
	models, err := r.build(ctx, nameOf[T](), attrs, n)
	if err != nil {
		return nil, err
	}
	return assertAll[T](models)
}

func assertOne[T any](m any) (*T, error) {
	typed, ok := m.(*T)
	if !ok {
		return nil, fmt.Errorf("factory %q built %T, want *%s", nameOf[T](), m, nameOf[T]())
	}
	return typed, nil
}

func assertAll[T any](models []any) ([]*T, error) {
	out := make([]*T, 0, len(models))
	for _, m := range models {
		typed, err := assertOne[T](m)
		if err != nil {
			return nil, err
		}
		out = append(out, typed)
	}
	return out, nil
}
