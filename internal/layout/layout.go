package layout

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
)

const (
	Weather  = "weather"
	Clothing = "clothing"
	Calendar = "calendar"
	Meals    = "meals"
	Notes    = "notes"
	Gmail    = "gmail"
	Budget   = "budget"
)

// canonical is the order new installs start with; it also decides where
// widget types unknown to a saved order are slotted in.
var canonical = []string{Weather, Clothing, Calendar, Meals, Notes, Gmail, Budget}

func DefaultOrder() []string {
	return slices.Clone(canonical)
}

func Known(id string) bool {
	return slices.Contains(canonical, id)
}

// OrderStore persists the widget order for this display.
type OrderStore interface {
	LoadOrder(ctx context.Context) (order []string, ok bool, err error)
	SaveOrder(ctx context.Context, order []string) error
}

// Migrate turns any stored order into a permutation of the known widget
// types. Unknown and repeated ids are dropped; each missing type goes right
// after the closest type that precedes it in the canonical order, or first
// when none does.
func Migrate(stored []string) []string {
	out := make([]string, 0, len(canonical))
	for _, id := range stored {
		if Known(id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for i, id := range canonical {
		if slices.Contains(out, id) {
			continue
		}
		pos := 0
		for j := i - 1; j >= 0; j-- {
			if at := slices.Index(out, canonical[j]); at >= 0 {
				pos = at + 1
				break
			}
		}
		out = slices.Insert(out, pos, id)
	}
	return out
}

type Store struct {
	orders OrderStore

	mu    sync.Mutex
	order []string
}

func NewStore(orders OrderStore) *Store {
	return &Store{orders: orders, order: DefaultOrder()}
}

// Load reads the persisted order, migrating and writing it back when needed.
// On a read error the default order is kept and the error returned.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	stored, ok, err := s.orders.LoadOrder(ctx)
	if err != nil {
		return s.Order(), fmt.Errorf("load widget order: %w", err)
	}

	order := DefaultOrder()
	if ok {
		order = Migrate(stored)
	}

	s.mu.Lock()
	s.order = order
	s.mu.Unlock()

	if !ok || !slices.Equal(order, stored) {
		if err := s.orders.SaveOrder(ctx, order); err != nil {
			log.Printf("layout: write back widget order: %v", err)
		}
	}
	return slices.Clone(order), nil
}

func (s *Store) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Reorder moves the widget moved to the index currently held by target and
// persists the result. Unknown ids and moved == target leave the order alone.
func (s *Store) Reorder(ctx context.Context, moved, target string) ([]string, error) {
	s.mu.Lock()
	from := slices.Index(s.order, moved)
	to := slices.Index(s.order, target)
	if from < 0 || to < 0 || from == to {
		order := slices.Clone(s.order)
		s.mu.Unlock()
		return order, nil
	}
	next := slices.Delete(slices.Clone(s.order), from, from+1)
	next = slices.Insert(next, to, moved)
	s.order = next
	order := slices.Clone(next)
	s.mu.Unlock()

	if err := s.orders.SaveOrder(ctx, order); err != nil {
		return order, fmt.Errorf("save widget order: %w", err)
	}
	return order, nil
}
