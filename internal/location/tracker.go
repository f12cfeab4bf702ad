// Package location keeps the last known position of each courier. Reports
// may arrive out of order; the one with the newest report timestamp wins.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

// maxClockSkew bounds how far in the future a report timestamp may be, so a
// bad device clock cannot pin a position forever.
const maxClockSkew = time.Minute

type Tracker interface {
	// Report stores the position unless a newer one is already stored.
	Report(ctx context.Context, pos domain.Position) (bool, error)
	// Position returns the last accepted position or domain.ErrNotFound.
	Position(ctx context.Context, courierID string) (*domain.Position, error)
}

func Validate(pos domain.Position, now time.Time) error {
	if pos.CourierID == "" {
		return fmt.Errorf("%w: courier id is required", domain.ErrInvalidInput)
	}
	if pos.Lat < -90 || pos.Lat > 90 {
		return fmt.Errorf("%w: lat %f out of range", domain.ErrInvalidInput, pos.Lat)
	}
	if pos.Lon < -180 || pos.Lon > 180 {
		return fmt.Errorf("%w: lon %f out of range", domain.ErrInvalidInput, pos.Lon)
	}
	if pos.Timestamp.IsZero() {
		return fmt.Errorf("%w: ts is required", domain.ErrInvalidInput)
	}
	if pos.Timestamp.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("%w: ts is in the future", domain.ErrInvalidInput)
	}
	return nil
}

type MemoryTracker struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{positions: make(map[string]domain.Position)}
}

func (t *MemoryTracker) Report(_ context.Context, pos domain.Position) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.positions[pos.CourierID]; ok && current.Timestamp.After(pos.Timestamp) {
		return false, nil
	}
	t.positions[pos.CourierID] = pos
	return true, nil
}

func (t *MemoryTracker) Position(_ context.Context, courierID string) (*domain.Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[courierID]
	if !ok {
		return nil, fmt.Errorf("position of courier %s: %w", courierID, domain.ErrNotFound)
	}
	return &pos, nil
}
