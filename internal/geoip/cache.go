package geoip

import "time"

// record is a cached geo entry keyed by 32-bit IPv4 address. Any field may
// be empty if that field was never requested; entries are merged, never
// replaced wholesale (spec.md §4.E, invariant 3 in §8).
type record struct {
	countryCode string
	countryName string
	city        string
	asn         string
	lastLookup  time.Time
}

// Cache is the keyed lookup cache in front of the MaxMind database
// handles. Not safe for concurrent use; the Hub Context's single-threaded
// discipline is the only synchronization this type relies on.
type Cache struct {
	entries map[uint32]record
	maxAge  time.Duration
	now     func() time.Time
	lastSweep time.Time
}

// NewCache creates an empty Cache. now is the Hub Context's clock; maxAge
// bounds how long an entry survives between eviction sweeps.
func NewCache(maxAge time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[uint32]record),
		maxAge:  maxAge,
		now:     now,
	}
}

// fields is a sparse update: a zero-value field means "not supplied by
// this lookup" and must not overwrite a previously-cached value.
type fields struct {
	countryCode string
	countryName string
	city        string
	asn         string
}

// merge writes the non-empty fields of f into the entry for ip, creating
// it if absent, and stamps lastLookup to the cache's current clock time.
func (c *Cache) merge(ip uint32, f fields) {
	e := c.entries[ip]

	if f.countryCode != "" {
		e.countryCode = f.countryCode
	}
	if f.countryName != "" {
		e.countryName = f.countryName
	}
	if f.city != "" {
		e.city = f.city
	}
	if f.asn != "" {
		e.asn = f.asn
	}
	e.lastLookup = c.now()

	c.entries[ip] = e
}

// get returns the cached entry for ip and whether it exists at all. An
// empty-but-present entry (all fields blank) is still a legitimate miss
// from the caller's point of view; callers test individual fields.
func (c *Cache) get(ip uint32) (record, bool) {
	e, ok := c.entries[ip]
	return e, ok
}

// Sweep purges every entry whose lastLookup is older than maxAge, driven
// by the hub clock. Per spec.md's design-note decision, backwards clock
// motion (now before a previous sweep's reference point) is treated as a
// no-op: nothing is purged, and lastSweep is left untouched.
func (c *Cache) Sweep() {
	now := c.now()
	if !c.lastSweep.IsZero() && now.Before(c.lastSweep) {
		return
	}
	c.lastSweep = now

	if c.maxAge <= 0 {
		return
	}

	for ip, e := range c.entries {
		if now.Sub(e.lastLookup) > c.maxAge {
			delete(c.entries, ip)
		}
	}
}

// Len reports the number of cached entries, for tests and diagnostics.
func (c *Cache) Len() int { return len(c.entries) }

// Clear empties the cache. Called as part of database reload (spec.md
// §4.E "Reload").
func (c *Cache) Clear() {
	c.entries = make(map[uint32]record)
}
