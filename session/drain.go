package session

import (
	"context"
	"sort"

	"github.com/abdelmounim-dev/session-cache/codec"
	"github.com/abdelmounim-dev/session-cache/log"
)

// Op is what a flush does to one hash field.
type Op uint8

const (
	OpWrite Op = iota + 1
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one field to write or delete in the store.
type Change struct {
	Key  string
	Op   Op
	Wire string
}

// DrainChangeBatch returns the fields that differ from what the store last
// saw and marks them as synced. It holds the cache exclusively while it
// encodes, and does no I/O.
//
// Explicit sets and deletes come first, then fields that were read and
// changed in place through a held reference.
func (c *Cache) DrainChangeBatch() []Change {
	// Acquire with a background context only fails on cancellation.
	_ = c.gate.Acquire(context.Background(), gateWeight)
	defer c.gate.Release(gateWeight)

	var explicit, implicit []Change
	for _, sh := range c.shards {
		sh.mu.Lock()
		explicit, implicit = sh.drain(c.opts.name, c.opts.codec, explicit, implicit)
		sh.mu.Unlock()
	}

	sort.Slice(explicit, func(i, j int) bool { return explicit[i].Key < explicit[j].Key })
	sort.Slice(implicit, func(i, j int) bool { return implicit[i].Key < implicit[j].Key })
	return append(explicit, implicit...)
}

func (sh *shard) drain(name string, vc codec.ValueCodec, explicit, implicit []Change) ([]Change, []Change) {
	done := make(map[string]struct{}, len(sh.changes))

	for key, act := range sh.changes {
		done[key] = struct{}{}
		switch act.kind {
		case actionSet:
			wire, err := vc.Encode(key, act.value)
			if err != nil {
				log.Errorf("Session %s: not saving field %q: %v", name, key, err)
				continue
			}
			if prev, ok := sh.raw[key]; ok && prev == wire {
				continue
			}
			sh.raw[key] = wire
			explicit = append(explicit, Change{Key: key, Op: OpWrite, Wire: wire})
		case actionDelete:
			delete(sh.raw, key)
			explicit = append(explicit, Change{Key: key, Op: OpDelete})
		}
	}
	clear(sh.changes)

	// touched is kept for the life of the cache so later flushes still see
	// in-place edits to values read long ago.
	for key := range sh.touched {
		if _, ok := done[key]; ok {
			continue
		}
		s, ok := sh.slots[key]
		if !ok || !s.loaded {
			continue
		}
		wire, err := vc.Encode(key, s.value)
		if err != nil {
			log.Errorf("Session %s: not saving field %q: %v", name, key, err)
			continue
		}
		if prev, ok := sh.raw[key]; ok && prev == wire {
			continue
		}
		sh.raw[key] = wire
		implicit = append(implicit, Change{Key: key, Op: OpWrite, Wire: wire})
	}
	return explicit, implicit
}
