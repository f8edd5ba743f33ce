package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSerialExhausted is returned when a zone serial was bumped 99 times in one day.
var ErrSerialExhausted = errors.New("zone serial exhausted for today")

// NextSerial returns the serial following current on the given day, in the
// YYYYMMDDnn convention.
func NextSerial(current int, now time.Time) (int, error) {
	y, m, d := now.UTC().Date()
	today := y*10000 + int(m)*100 + d
	if base := today * 100; base > current {
		return base, nil
	}
	if current/100 == today && current%100 == 99 {
		return 0, fmt.Errorf("serial %d: %w", current, ErrSerialExhausted)
	}
	return current + 1, nil
}

// SerialStore persists zone serials across restarts.
type SerialStore interface {
	LoadSerials(ctx context.Context) (map[string]int, error)
	SaveSerial(ctx context.Context, name string, serial int) error
}

// SerialBook holds the current serial of every zone. Serials survive inventory
// reloads and, with a store, restarts.
type SerialBook struct {
	mu      sync.Mutex
	serials map[string]int
	store   SerialStore
}

// NewSerialBook creates a serial book. store may be nil.
func NewSerialBook(store SerialStore) *SerialBook {
	return &SerialBook{serials: make(map[string]int), store: store}
}

// Load reads persisted serials.
func (b *SerialBook) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	serials, err := b.store.LoadSerials(ctx)
	if err != nil {
		return fmt.Errorf("failed to load serials: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, serial := range serials {
		if serial > b.serials[name] {
			b.serials[name] = serial
		}
	}
	return nil
}

// Seed raises the serial of name to at least serial.
func (b *SerialBook) Seed(name string, serial int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if serial > b.serials[name] {
		b.serials[name] = serial
	}
}

// Serial returns the current serial of name.
func (b *SerialBook) Serial(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serials[name]
}

// Bump advances the serial of name and persists it.
func (b *SerialBook) Bump(name string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := NextSerial(b.serials[name], now)
	if err != nil {
		return 0, err
	}
	if b.store != nil {
		if err := b.store.SaveSerial(context.Background(), name, next); err != nil {
			return 0, fmt.Errorf("failed to save serial of %s: %w", name, err)
		}
	}
	b.serials[name] = next
	return next, nil
}
