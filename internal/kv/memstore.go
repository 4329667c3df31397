package kv

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
)

// MemStore is an in-process reference implementation of Store. It backs
// paper trading and tests; every production deployment uses
// kv.PostgresStore for real durability, but MemStore implements the
// exact same contract so the two are interchangeable in the
// composition root.
//
// Grounded on the teacher's PaperBroker: a single mutex guarding a set of
// plain maps, sized for correctness over throughput.
type MemStore struct {
	mu        sync.Mutex
	namespace string
	strings   map[string]entry
	hashes    map[string]map[string]entry
	sets      map[string]map[string]struct{}
	lists     map[string][]string
	unavail   bool
}

type entry struct {
	value   string
	expires time.Time // zero value means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemStore creates an empty in-process store under the given namespace.
func NewMemStore(namespace string) *MemStore {
	return &MemStore{
		namespace: namespace,
		strings:   make(map[string]entry),
		hashes:    make(map[string]map[string]entry),
		sets:      make(map[string]map[string]struct{}),
		lists:     make(map[string][]string),
	}
}

// SetUnavailable forces Ping (and therefore every caller that checks it
// at startup) to fail with scalpererr.StoreUnavailable. Used by tests that
// exercise the fatal-on-startup failure path.
func (m *MemStore) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavail = v
}

func (m *MemStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavail {
		return scalpererr.New(scalpererr.StoreUnavailable, "kv.Ping", "backing store unreachable")
	}
	return nil
}

func (m *MemStore) key(k string) string { return Namespace(m.namespace, k) }

func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[m.key(key)]
	if !ok || e.expired(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[m.key(key)] = m.newEntry(value, ttl)
	return nil
}

func (m *MemStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	delete(m.strings, k)
	delete(m.hashes, k)
	delete(m.sets, k)
	delete(m.lists, k)
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	if e, ok := m.strings[k]; ok && !e.expired(time.Now()) {
		return true, nil
	}
	if h, ok := m.hashes[k]; ok && len(h) > 0 {
		return true, nil
	}
	if s, ok := m.sets[k]; ok && len(s) > 0 {
		return true, nil
	}
	if l, ok := m.lists[k]; ok && len(l) > 0 {
		return true, nil
	}
	return false, nil
}

func (m *MemStore) newEntry(value string, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (m *MemStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	h, ok := m.hashes[k]
	if !ok {
		h = make(map[string]entry)
		m.hashes[k] = h
	}
	for f, v := range fields {
		h[f] = entry{value: v}
	}
	return nil
}

func (m *MemStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[m.key(key)]
	if !ok {
		return "", false, nil
	}
	e, ok := h[field]
	if !ok || e.expired(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[m.key(key)]
	if !ok {
		return map[string]string{}, nil
	}
	now := time.Now()
	out := make(map[string]string, len(h))
	for f, e := range h {
		if e.expired(now) {
			continue
		}
		out[f] = e.value
	}
	return out, nil
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	s, ok := m.sets[k]
	if !ok {
		s = make(map[string]struct{})
		m.sets[k] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[m.key(key)]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(s, mem)
	}
	return nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[m.key(key)]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for mem := range s {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[m.key(key)]
	if !ok {
		return false, nil
	}
	_, ok = s[member]
	return ok, nil
}

func (m *MemStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	// Each pushed value goes to the front, matching Redis LPUSH ordering
	// (last pushed ends up first).
	for _, v := range values {
		m.lists[k] = append([]string{v}, m.lists[k]...)
	}
	return nil
}

func (m *MemStore) LTrim(_ context.Context, key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	l := m.lists[k]
	l = sliceRange(l, start, stop)
	m.lists[k] = l
	return nil
}

func (m *MemStore) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[m.key(key)]
	out := sliceRange(l, start, stop)
	cp := make([]string, len(out))
	copy(cp, out)
	return cp, nil
}

// sliceRange implements Redis-style inclusive start/stop indices, with
// negative indices counting from the end (-1 = last element).
func sliceRange(l []string, start, stop int) []string {
	n := len(l)
	if n == 0 {
		return l
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return l[start : stop+1]
}

func (m *MemStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	if e, ok := m.strings[k]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.strings[k] = m.newEntry(value, ttl)
	return true, nil
}

func (m *MemStore) Release(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	e, ok := m.strings[k]
	if !ok || e.expired(time.Now()) || e.value != owner {
		return false, nil
	}
	delete(m.strings, k)
	return true, nil
}

func (m *MemStore) Throttle(_ context.Context, name string, interval time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(KeyThrottle(name))
	now := time.Now()
	if e, ok := m.strings[k]; ok && !e.expired(now) {
		return false, nil
	}
	m.strings[k] = entry{value: now.Format(time.RFC3339Nano), expires: now.Add(interval)}
	return true, nil
}
