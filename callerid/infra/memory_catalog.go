package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"callerid-gateway/callerid/domain"
)

// MemoryCatalog é um Catalog em memória para testes e CATALOG_DRIVER=memory.
type MemoryCatalog struct {
	mu      sync.RWMutex
	numbers map[string]domain.CallerNumber
}

func NewMemoryCatalog(seed ...domain.CallerNumber) *MemoryCatalog {
	c := &MemoryCatalog{numbers: make(map[string]domain.CallerNumber, len(seed))}
	for _, n := range seed {
		c.numbers[n.ID] = clone(n)
	}
	return c
}

func (c *MemoryCatalog) GetByID(_ context.Context, id string) (domain.CallerNumber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.numbers[id]
	if !ok {
		return domain.CallerNumber{}, domain.ErrNumberNotFound
	}
	return clone(n), nil
}

func (c *MemoryCatalog) Insert(_ context.Context, n domain.CallerNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.numbers[n.ID]; ok {
		return domain.ErrNumberAlreadyExists
	}
	c.numbers[n.ID] = clone(n)
	return nil
}

func (c *MemoryCatalog) Upsert(_ context.Context, n domain.CallerNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numbers[n.ID] = clone(n)
	return nil
}

func (c *MemoryCatalog) List(_ context.Context) ([]domain.CallerNumber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.CallerNumber, 0, len(c.numbers))
	for _, n := range c.numbers {
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.numbers[id]
	if !ok {
		return domain.ErrNumberNotFound
	}
	at = at.UTC()
	n.LastUsed = &at
	n.UpdatedAt = at
	c.numbers[id] = n
	return nil
}

// clone evita que quem chama altere LastUsed/Meta do registro guardado.
func clone(n domain.CallerNumber) domain.CallerNumber {
	if n.LastUsed != nil {
		t := *n.LastUsed
		n.LastUsed = &t
	}
	if n.Meta != nil {
		m := make(map[string]any, len(n.Meta))
		for k, v := range n.Meta {
			m[k] = v
		}
		n.Meta = m
	}
	return n
}

var _ domain.Catalog = (*MemoryCatalog)(nil)
