package dns

import (
	"math"
	"strings"
	"sync"
	"time"
)

// storageKey identifies a record set by (canonical name, type, class).
type storageKey struct {
	name  string
	typ   Type
	class Class
}

func keyOf(q Question) storageKey {
	return storageKey{name: q.Name.Canonical(), typ: q.Type, class: q.Class}
}

// cacheEntry is a cached record set with its absolute expiry.
type cacheEntry struct {
	records    []Resource
	expiration time.Time
}

// Storage holds the resolver's three record sources: authoritative
// records (no expiry), upstream answers cached until the smallest TTL
// runs out, and the two deny-sets. All methods are safe for concurrent
// use; the maps are read-mostly.
type Storage struct {
	mu             sync.RWMutex
	records        map[storageKey][]Resource
	cache          map[storageKey]cacheEntry
	blockedHosts   map[string]struct{}
	blockedDomains map[string]struct{}

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{
		records:        make(map[storageKey][]Resource),
		cache:          make(map[storageKey]cacheEntry),
		blockedHosts:   make(map[string]struct{}),
		blockedDomains: make(map[string]struct{}),
		now:            time.Now,
	}
}

// AddRecord registers an authoritative record. Multiple records may share
// a key.
func (s *Storage) AddRecord(r Resource) {
	key := storageKey{name: r.Name.Canonical(), typ: r.Type, class: r.Class}
	s.mu.Lock()
	s.records[key] = append(s.records[key], r)
	s.mu.Unlock()
}

// BlockHostname denies one exact hostname.
func (s *Storage) BlockHostname(name string) {
	s.mu.Lock()
	s.blockedHosts[canonicalize(name)] = struct{}{}
	s.mu.Unlock()
}

// BlockDomain denies a domain and every name beneath it.
func (s *Storage) BlockDomain(domain string) {
	s.mu.Lock()
	s.blockedDomains[canonicalize(domain)] = struct{}{}
	s.mu.Unlock()
}

func canonicalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// IsBlocked reports whether a question's name is denied: an exact hit in
// the hostname set, or any label-boundary suffix present in the domain
// set. "foo.bar.example.com" matches a blocked "example.com";
// "notexample.com" does not.
func (s *Storage) IsBlocked(q Question) bool {
	name := q.Name.Canonical()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blockedHosts[name]; ok {
		return true
	}
	for suffix := name; suffix != ""; {
		if _, ok := s.blockedDomains[suffix]; ok {
			return true
		}
		dot := strings.IndexByte(suffix, '.')
		if dot < 0 {
			break
		}
		suffix = suffix[dot+1:]
	}
	return false
}

// BlockedAnswer synthesizes the reply for a blocked question: a single A
// record pointing at 0.0.0.0 with the maximum TTL.
func BlockedAnswer(q Question) Resource {
	return Resource{
		Name:  q.Name,
		Type:  TypeA,
		Class: ClassINET,
		TTL:   math.MaxUint32,
		Data:  []byte{0, 0, 0, 0},
	}
}

// Lookup returns the records answering q: authoritative first, then an
// unexpired cache entry. ok is false on a miss (including an expired
// cache entry, which stays in the map until AddCache overwrites it for
// the same question).
func (s *Storage) Lookup(q Question) (records []Resource, ok bool) {
	key := keyOf(q)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if recs, hit := s.records[key]; hit {
		return recs, true
	}
	if entry, hit := s.cache[key]; hit && s.now().Before(entry.expiration) {
		return entry.records, true
	}
	return nil, false
}

// AddCache stores an upstream answer until its smallest TTL elapses.
// Empty record sets are not cached.
func (s *Storage) AddCache(q Question, records []Resource) {
	if len(records) == 0 {
		return
	}
	minTTL := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < minTTL {
			minTTL = r.TTL
		}
	}
	entry := cacheEntry{
		records:    records,
		expiration: s.now().Add(time.Duration(minTTL) * time.Second),
	}
	s.mu.Lock()
	s.cache[keyOf(q)] = entry
	s.mu.Unlock()
}
