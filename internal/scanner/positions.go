package scanner

import (
	"sync"

	"proximity-service/internal/models"
)

// Positions holds the latest fix per user. Writers never wait on a scan:
// the scan works from a Snapshot copy taken at tick start.
type Positions struct {
	mu     sync.RWMutex
	latest map[int]models.GPSFix
}

// NewPositions creates an empty store.
func NewPositions() *Positions {
	return &Positions{latest: make(map[int]models.GPSFix)}
}

// Put records fix unless a newer one is already stored for the user.
func (p *Positions) Put(fix models.GPSFix) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.latest[fix.UserID]; ok && fix.Timestamp.Before(cur.Timestamp) {
		return false
	}
	p.latest[fix.UserID] = fix
	return true
}

// Get returns the latest fix for a user.
func (p *Positions) Get(userID int) (models.GPSFix, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fix, ok := p.latest[userID]
	return fix, ok
}

// Remove drops the user's position.
func (p *Positions) Remove(userID int) {
	p.mu.Lock()
	delete(p.latest, userID)
	p.mu.Unlock()
}

// Snapshot copies the current positions.
func (p *Positions) Snapshot() map[int]models.GPSFix {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]models.GPSFix, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}

// Len returns the number of tracked users.
func (p *Positions) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.latest)
}
