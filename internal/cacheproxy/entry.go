package cacheproxy

// maxEntries is the fixed capacity of the cache table.
const maxEntries = 10

// maxKeyBytes is the largest request key eligible for admission.
const maxKeyBytes = 2000

// maxValueBytes is the largest response value eligible for admission.
const maxValueBytes = 100 * 1024

// entry is one slot in the fixed cache table. request and response are the exact
// byte sequences exchanged with the origin; host and uri are retained only for
// diagnostic log lines. No slot buffer is ever mutated in place: replacement and
// eviction always release the old buffers and allocate fresh ones.
type entry struct {
	request      []byte
	response     []byte
	host         string
	uri          string
	lastAccessed uint64
	cachedAt     int64 // monotonic milliseconds at commit time
	maxAge       uint32
	valid        bool
}

// stale reports whether e has exceeded its declared max-age as of nowMS. An entry
// with maxAge == 0 never becomes stale by age.
func (e *entry) stale(nowMS int64) bool {
	if !e.valid || e.maxAge == 0 {
		return false
	}
	ageMS := nowMS - e.cachedAt
	return ageMS > int64(e.maxAge)*1000
}

// release frees the four owned buffers and marks the slot empty. Callers are
// responsible for adjusting table.size.
func (e *entry) release() {
	e.request = nil
	e.response = nil
	e.host = ""
	e.uri = ""
	e.lastAccessed = 0
	e.cachedAt = 0
	e.maxAge = 0
	e.valid = false
}
