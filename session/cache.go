package session

import (
	"context"
	"hash/maphash"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/abdelmounim-dev/session-cache/codec"
	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
)

const (
	shardCount           = 16
	gateWeight           = 1 << 30
	defaultAccessTimeout = 2 * time.Second
)

var shardSeed = maphash.MakeSeed()

// slot holds one field. A slot is never mutated after it is published;
// decoding replaces it with a loaded copy.
type slot struct {
	seq    uint64
	loaded bool
	value  any
}

type actionKind uint8

const (
	actionSet actionKind = iota + 1
	actionDelete
)

// action is a pending change. A later action for a key replaces the earlier one.
type action struct {
	kind  actionKind
	value any
}

// shard owns a subset of the fields and everything tracked about them.
type shard struct {
	mu      sync.Mutex
	slots   map[string]*slot
	raw     map[string]string
	changes map[string]action
	touched map[string]struct{}
}

func newShard() *shard {
	return &shard{
		slots:   make(map[string]*slot),
		raw:     make(map[string]string),
		changes: make(map[string]action),
		touched: make(map[string]struct{}),
	}
}

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	name          string
	codec         codec.ValueCodec
	accessTimeout time.Duration
}

// WithCodec sets the value codec. The default is codec.JSONCodec.
func WithCodec(c codec.ValueCodec) CacheOption {
	return func(o *cacheOptions) { o.codec = c }
}

// WithAccessTimeout bounds how long a field access waits while a flush holds
// the cache.
func WithAccessTimeout(d time.Duration) CacheOption {
	return func(o *cacheOptions) {
		if d > 0 {
			o.accessTimeout = d
		}
	}
}

// WithName labels the cache in log output, usually with its store key.
func WithName(name string) CacheOption {
	return func(o *cacheOptions) { o.name = name }
}

// Cache is the in-memory working set of one session. It is shared by every
// request that uses the session and is safe for concurrent use.
//
// Field access takes a shared slot on an internal gate and then locks only
// the shard owning the key; DrainChangeBatch takes the whole gate. Values are
// decoded from their wire form on first access.
type Cache struct {
	opts   cacheOptions
	gate   *semaphore.Weighted
	shards [shardCount]*shard
	seq    atomic.Uint64
	size   int
}

// NewCache returns an empty cache for a new session.
func NewCache(opts ...CacheOption) *Cache {
	o := cacheOptions{
		codec:         codec.NewJSONCodec(),
		accessTimeout: defaultAccessTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache{opts: o, gate: semaphore.NewWeighted(gateWeight)}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	return c
}

// NewCacheFromHash returns a cache holding the fields of a stored session.
// Nothing is decoded until a field is read. Fields are ordered by name.
func NewCacheFromHash(data map[string][]byte, opts ...CacheOption) *Cache {
	c := NewCache(opts...)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sh := c.shardFor(k)
		sh.raw[k] = string(data[k])
		sh.slots[k] = &slot{seq: c.seq.Add(1)}
		c.size += len(data[k])
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[maphash.String(shardSeed, key)%shardCount]
}

// enter takes a shared slot on the gate, waiting at most accessTimeout.
func (c *Cache) enter(op, key string) bool {
	if c.gate.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.accessTimeout)
	defer cancel()
	if err := c.gate.Acquire(ctx, 1); err != nil {
		metrics.AccessTimeouts.Inc()
		log.Warnf("Session %s: %s of %q abandoned, flush in progress", c.opts.name, op, key)
		return false
	}
	return true
}

func (c *Cache) leave() { c.gate.Release(1) }

// SizeBytes is the total wire size the cache was hydrated with.
func (c *Cache) SizeBytes() int { return c.size }

// Get returns the value of key, decoding it on first access. A field that
// cannot be decoded clears the whole session and reads as absent.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enter("get", key) {
		return nil, false
	}
	defer c.leave()
	return c.get(key)
}

func (c *Cache) get(key string) (any, bool) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.touched[key] = struct{}{}
	s, ok := sh.slots[key]
	if !ok {
		sh.mu.Unlock()
		return nil, false
	}
	if s.loaded {
		v := s.value
		sh.mu.Unlock()
		return v, true
	}
	wire := sh.raw[key]
	sh.mu.Unlock()

	v, err := c.opts.codec.Decode(wire)
	if err != nil {
		metrics.DecodeFailures.Inc()
		log.Errorf("Session %s: clearing session, field %q is unreadable: %v", c.opts.name, key, err)
		c.clear()
		return nil, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.slots[key]
	if !ok {
		return nil, false
	}
	if cur != s {
		// Another reader or writer got there first; its value wins.
		if cur.loaded {
			return cur.value, true
		}
		return nil, false
	}
	sh.slots[key] = &slot{seq: s.seq, loaded: true, value: v}
	return v, true
}

// Set stores value under key. A nil value removes the key. Assigning the
// value already held (same reference) records nothing.
func (c *Cache) Set(key string, value any) {
	if !c.enter("set", key) {
		return
	}
	defer c.leave()
	c.set(key, value)
}

func (c *Cache) set(key string, value any) {
	if value == nil {
		c.remove(key)
		return
	}
	if cur, ok := c.get(key); ok && sameValue(cur, value) {
		return
	}

	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.changes[key] = action{kind: actionSet, value: value}
	var seq uint64
	if s, ok := sh.slots[key]; ok {
		seq = s.seq
	} else {
		seq = c.seq.Add(1)
	}
	sh.slots[key] = &slot{seq: seq, loaded: true, value: value}
}

// Remove deletes key from the session.
func (c *Cache) Remove(key string) {
	if !c.enter("remove", key) {
		return
	}
	defer c.leave()
	c.remove(key)
}

func (c *Cache) remove(key string) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.slots[key]; ok {
		sh.changes[key] = action{kind: actionDelete}
		delete(sh.slots, key)
	}
	delete(sh.raw, key)
}

// Clear removes every field.
func (c *Cache) Clear() {
	if !c.enter("clear", "*") {
		return
	}
	defer c.leave()
	c.clear()
}

func (c *Cache) clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k := range sh.slots {
			sh.changes[k] = action{kind: actionDelete}
		}
		clear(sh.slots)
		clear(sh.raw)
		sh.mu.Unlock()
	}
}

// Len returns the number of fields.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.slots)
		sh.mu.Unlock()
	}
	return n
}

// Touched returns how many distinct fields have been read or written.
func (c *Cache) Touched() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.touched)
		sh.mu.Unlock()
	}
	return n
}

// Keys returns field names in insertion order.
func (c *Cache) Keys() []string {
	type entry struct {
		key string
		seq uint64
	}
	var entries []entry
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, s := range sh.slots {
			entries = append(entries, entry{key: k, seq: s.seq})
		}
		sh.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// KeyAt returns the name of the field at index i in insertion order.
func (c *Cache) KeyAt(i int) (string, bool) {
	keys := c.Keys()
	if i < 0 || i >= len(keys) {
		return "", false
	}
	return keys[i], true
}

// GetAt returns the value at index i.
func (c *Cache) GetAt(i int) (any, bool) {
	key, ok := c.KeyAt(i)
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// SetAt replaces the value at index i. Out of range indexes are ignored.
func (c *Cache) SetAt(i int, value any) {
	if key, ok := c.KeyAt(i); ok {
		c.Set(key, value)
	}
}

// RemoveAt deletes the field at index i. Out of range indexes are ignored.
func (c *Cache) RemoveAt(i int) {
	if key, ok := c.KeyAt(i); ok {
		c.Remove(key)
	}
}

// Range calls fn for every field in insertion order, decoding values as it
// goes. Fields removed during iteration are skipped.
func (c *Cache) Range(fn func(key string, value any) bool) {
	for _, key := range c.Keys() {
		v, ok := c.Get(key)
		if !ok {
			continue
		}
		if !fn(key, v) {
			return
		}
	}
}

// sameValue reports whether b is the value a already is: the same reference
// for pointers, maps and slices, equality for scalars. Anything else counts
// as a new value.
func sameValue(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return a == b
	default:
		return false
	}
}
