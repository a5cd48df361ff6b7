// Package budget serves the expense list through a short-lived Redis cache.
package budget

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"homeboard/internal/backend"
)

const cacheKey = "expenses"

type Client interface {
	Expenses(ctx context.Context) (backend.ExpenseList, error)
	DeleteExpense(ctx context.Context, id string) error
}

type Cache interface {
	GetJSON(ctx context.Context, name string, target any) (bool, error)
	SetJSON(ctx context.Context, name string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, name string) error
}

type Expenses struct {
	client Client
	cache  Cache
	ttl    time.Duration
}

// NewExpenses builds the read-through list. A nil cache or a non-positive
// ttl disables caching.
func NewExpenses(client Client, cache Cache, ttl time.Duration) *Expenses {
	return &Expenses{client: client, cache: cache, ttl: ttl}
}

func (e *Expenses) caching() bool {
	return e.cache != nil && e.ttl > 0
}

// List returns the cached expenses, fetching them from the backend on a miss.
// Cache failures fall through to the backend.
func (e *Expenses) List(ctx context.Context) (backend.ExpenseList, error) {
	if e.caching() {
		var cached backend.ExpenseList
		hit, err := e.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			log.Printf("budget: cache read: %v", err)
		}
		if hit {
			return cached, nil
		}
	}

	expenses, err := e.client.Expenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	if expenses == nil {
		expenses = backend.ExpenseList{}
	}
	if e.caching() {
		if err := e.cache.SetJSON(ctx, cacheKey, expenses, e.ttl); err != nil {
			log.Printf("budget: cache write: %v", err)
		}
	}
	return expenses, nil
}

// Delete removes an expense on the backend and drops the cached list.
func (e *Expenses) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("delete expense: empty id")
	}
	if err := e.client.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return e.Invalidate(ctx)
}

// Invalidate drops the cached list so the next List reads the backend.
func (e *Expenses) Invalidate(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, cacheKey)
}
