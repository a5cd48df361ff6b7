package briefing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownBriefing = errors.New("unknown briefing")

// Saver persists a full briefing collection.
type Saver interface {
	SaveBriefings(ctx context.Context, configs []Config) error
}

// Draft is a working copy of the briefing collection. Nothing leaves it
// until Save succeeds.
type Draft struct {
	mu      sync.Mutex
	configs []Config
	newID   func() string
}

func NewDraft(configs []Config) *Draft {
	return &Draft{
		configs: cloneConfigs(configs),
		newID:   func() string { return uuid.NewString() },
	}
}

func (d *Draft) Configs() []Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneConfigs(d.configs)
}

// Add appends an enabled briefing with default content and a fresh id.
func (d *Draft) Add(title, clock string) Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := Config{
		ID:      d.newID(),
		Title:   title,
		Time:    clock,
		Enabled: true,
		Content: DefaultContent(),
	}
	d.configs = append(d.configs, cfg)
	return cfg
}

// Update applies edit to the briefing with id. The id itself cannot change.
func (d *Draft) Update(id string, edit func(*Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.configs {
		if d.configs[i].ID != id {
			continue
		}
		edit(&d.configs[i])
		d.configs[i].ID = id
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownBriefing, id)
}

func (d *Draft) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.configs {
		if d.configs[i].ID == id {
			d.configs = append(d.configs[:i], d.configs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownBriefing, id)
}

func (d *Draft) SetEnabled(id string, enabled bool) error {
	return d.Update(id, func(cfg *Config) { cfg.Enabled = enabled })
}

func (d *Draft) SetContent(id string, content Content) error {
	return d.Update(id, func(cfg *Config) { cfg.Content = content })
}

// Validate returns the first config that cannot be persisted.
func (d *Draft) Validate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return validateAll(d.configs)
}

// Save validates the whole collection and only then hands it to saver.
func (d *Draft) Save(ctx context.Context, saver Saver) ([]Config, error) {
	configs := d.Configs()
	if err := validateAll(configs); err != nil {
		return nil, err
	}
	if err := saver.SaveBriefings(ctx, configs); err != nil {
		return nil, fmt.Errorf("save briefings: %w", err)
	}
	return configs, nil
}

func validateAll(configs []Config) error {
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if cfg.ID == "" {
			return &ValidationError{Field: "id", Reason: "is required"}
		}
		if _, dup := seen[cfg.ID]; dup {
			return &ValidationError{ID: cfg.ID, Field: "id", Reason: "is duplicated"}
		}
		seen[cfg.ID] = struct{}{}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func cloneConfigs(configs []Config) []Config {
	if configs == nil {
		return []Config{}
	}
	out := make([]Config, len(configs))
	copy(out, configs)
	return out
}
