package engine

import (
	"sync"

	"github.com/atmx/curve-engine/internal/model"
)

type holderLock struct {
	holders int
	mu      sync.Mutex
}

// poolLocks serializes mutations of one pool while leaving different pools
// independent. Entries exist only while somebody holds or waits on them.
type poolLocks struct {
	l sync.Mutex
	m map[model.Address]*holderLock
}

func newPoolLocks() *poolLocks {
	return &poolLocks{m: make(map[model.Address]*holderLock)}
}

func (p *poolLocks) Lock(key model.Address) {
	p.l.Lock()
	hl, ok := p.m[key]
	if !ok {
		hl = &holderLock{}
		p.m[key] = hl
	}
	hl.holders++
	p.l.Unlock()

	hl.mu.Lock()
}

func (p *poolLocks) Unlock(key model.Address) {
	p.l.Lock()
	hl := p.m[key]
	hl.holders--
	if hl.holders == 0 {
		delete(p.m, key)
	}
	p.l.Unlock()

	hl.mu.Unlock()
}

// Len returns the number of live entries.
func (p *poolLocks) Len() int {
	p.l.Lock()
	defer p.l.Unlock()
	return len(p.m)
}
