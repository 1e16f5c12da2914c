package cacheproxy

import (
	"bytes"

	"github.com/fcprojects/htcacheproxy/internal/applog"
	"github.com/fcprojects/htcacheproxy/internal/metrics"
)

// lookupResult is returned by engine.lookup.
type lookupResult struct {
	hit        bool // fresh hit; caller may serve slot index from cache
	index      int  // valid when hit is true, or when staleIndex is true
	staleIndex bool // a stale match was found at index; commit must use the replacement path
}

// engine implements the Cache Engine: lookup, LRU selection, admission, and the
// stale-replacement protocol, layered over a plain store with no policy of its
// own.
type engine struct {
	table *store
	log   *applog.Logger
}

func newEngine(log *applog.Logger) *engine {
	return &engine{table: newStore(), log: log}
}

// lookup scans valid slots for an exact key match. A stale match is reported as
// a miss to the caller but its index is retained so commit can replace it in
// place rather than evicting an unrelated LRU victim. A fresh match is touched
// and returned as a hit.
func (eng *engine) lookup(key []byte) lookupResult {
	for i := range eng.table.slots {
		e := eng.table.at(i)
		if !e.valid || len(e.request) != len(key) {
			continue
		}
		if !bytes.Equal(e.request, key) {
			continue
		}
		if e.stale(eng.table.nowMS()) {
			eng.log.Info("Stale entry for %s %s", e.host, e.uri)
			metrics.CacheStale()
			return lookupResult{hit: false, index: i, staleIndex: true}
		}
		eng.table.touch(i)
		metrics.CacheHit()
		return lookupResult{hit: true, index: i}
	}
	metrics.CacheMiss()
	return lookupResult{hit: false}
}

// lruVictim returns the index of the slot to evict to make room: the first
// invalid slot if the table isn't full, otherwise the valid slot with the
// smallest last_accessed.
func (eng *engine) lruVictim() int {
	if i := eng.table.firstInvalid(); i >= 0 {
		return i
	}
	victim := -1
	for i := range eng.table.slots {
		e := eng.table.at(i)
		if !e.valid {
			continue
		}
		if victim < 0 || e.lastAccessed < eng.table.at(victim).lastAccessed {
			victim = i
		}
	}
	return victim
}

// preEvict implements the pre-emptive make-room path: called when lookup missed
// entirely (no fresh or stale match) and the table is already full, so a victim
// is evicted before the origin fetch begins. It is never called when a stale
// match exists — the stale-replacement path handles that slot instead.
func (eng *engine) preEvict() {
	if eng.table.size < maxEntries {
		return
	}
	victim := eng.lruVictim()
	if victim < 0 {
		return
	}
	e := eng.table.at(victim)
	eng.log.Info("Evicting %s %s from cache", e.host, e.uri)
	metrics.CacheEviction()
	eng.table.release(victim)
}

// admit commits a freshly fetched, cacheable response that fits within the size
// limits. Returns false without mutating the table if key or value exceeds the
// admission limits.
func (eng *engine) admit(key, value []byte, host, uri string, maxAge uint32) bool {
	if len(key) > maxKeyBytes || len(value) > maxValueBytes {
		return false
	}

	var slot int
	if eng.table.size < maxEntries {
		slot = eng.table.firstInvalid()
		if slot < 0 {
			// size says there's room but no invalid slot was found; table
			// bookkeeping would be inconsistent, so fall back to LRU.
			slot = eng.lruVictim()
		} else {
			eng.table.size++
		}
	} else {
		victim := eng.lruVictim()
		e := eng.table.at(victim)
		eng.log.Info("Evicting %s %s from cache", e.host, e.uri)
		metrics.CacheEviction()
		eng.table.release(victim)
		slot = victim
		eng.table.size++
	}

	eng.fill(slot, key, value, host, uri, maxAge)
	return true
}

// replaceStale handles the cacheable branch of stale replacement: the stale
// slot is released and refilled in place, so slot identity and table size are
// preserved across the replacement.
func (eng *engine) replaceStale(index int, key, value []byte, host, uri string, maxAge uint32) bool {
	if len(key) > maxKeyBytes || len(value) > maxValueBytes {
		eng.releaseStale(index, host, uri)
		return false
	}
	eng.table.at(index).release()
	eng.fill(index, key, value, host, uri, maxAge)
	return true
}

// releaseStale implements the not-cacheable (or oversize) branch of the
// stale-replacement protocol: the stale slot carries no future value once its
// refetch proves unusable, so it is released rather than left stale forever.
func (eng *engine) releaseStale(index int, host, uri string) {
	eng.log.Info("Evicting %s %s from cache", host, uri)
	metrics.CacheEviction()
	eng.table.release(index)
}

// fill stamps a slot with freshly owned copies of key/value/host/uri and marks
// it valid and touched. Callers must have already ensured the slot is empty.
func (eng *engine) fill(i int, key, value []byte, host, uri string, maxAge uint32) {
	e := eng.table.at(i)
	e.request = append([]byte(nil), key...)
	e.response = append([]byte(nil), value...)
	e.host = host
	e.uri = uri
	e.maxAge = maxAge
	e.cachedAt = eng.table.nowMS()
	e.valid = true
	eng.table.touch(i)
}
