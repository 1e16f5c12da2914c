package cacheproxy

import (
	"context"
	"net"
	"time"

	"github.com/fcprojects/htcacheproxy/internal/applog"
	"github.com/fcprojects/htcacheproxy/internal/balancer"
	"github.com/fcprojects/htcacheproxy/internal/metrics"
)

// Handler drives the per-connection state machine described by the request
// pipeline: read request, consult cache, forward to origin, accumulate
// response, commit to cache. One Handler instance is built once at startup and
// reused serially across every accepted connection — it owns the only writer
// of the cache table, so nothing here may run concurrently with itself.
type Handler struct {
	engine       *engine
	cacheEnabled bool
	log          *applog.Logger
	dial         func(ctx context.Context, host string) (net.Conn, error)
	origins      map[string]balancer.Balancer // optional per-Host origin override
}

// NewHandler builds a Handler. dial defaults to dialOrigin when nil; tests
// substitute a fake dialer to avoid real network access. origins may be nil;
// when it holds a Balancer for the request's Host, that balancer's Pick()
// result is dialed instead of the Host header itself, letting a single Host
// value fail over across several operator-configured origin addresses.
func NewHandler(cacheEnabled bool, log *applog.Logger, dial func(ctx context.Context, host string) (net.Conn, error), origins map[string]balancer.Balancer) *Handler {
	if dial == nil {
		dial = dialOrigin
	}
	return &Handler{
		engine:       newEngine(log),
		cacheEnabled: cacheEnabled,
		log:          log,
		dial:         dial,
		origins:      origins,
	}
}

// Shutdown drains every valid cache slot, releasing their buffers. Call once
// after the accept loop has exited.
func (h *Handler) Shutdown() {
	h.engine.table.drain()
}

// Serve handles exactly one client connection end to end and always closes it
// before returning.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	h.log.Info("Accepted")
	metrics.ConnectionAccepted()

	buf := make([]byte, requestBufferSize)
	n, terminatorOffset, err := readRequestHeader(conn, buf)
	if err != nil {
		return
	}
	header := buf[:n]
	keyLen := terminatorOffset + len(headerTerminator)
	key := header[:keyLen]

	h.log.Info("Request tail %s", requestLastLine(header, terminatorOffset))

	host, err := extractHostHeader(header[:keyLen])
	if err != nil {
		return
	}
	uri, err := extractRequestTarget(header[:keyLen])
	if err != nil {
		return
	}

	if !h.cacheEnabled {
		h.fetchAndForward(ctx, conn, key, host, uri, nil, false)
		return
	}

	result := h.engine.lookup(key)
	if result.hit {
		h.serveFromCache(conn, result.index, host, uri)
		return
	}
	if !result.staleIndex && h.engine.table.size >= maxEntries {
		h.engine.preEvict()
	}

	staleIdx := -1
	if result.staleIndex {
		staleIdx = result.index
	}
	admissible := keyLen <= maxKeyBytes
	h.fetchAndForward(ctx, conn, key, host, uri, staleIdxOrNil(staleIdx), admissible)
}

// staleIdxOrNil turns a sentinel -1 into a nil *int for readability at call
// sites, and a non-negative index into a pointer to it.
func staleIdxOrNil(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}

// serveFromCache writes a fresh cache hit's stored response directly to the
// client.
func (h *Handler) serveFromCache(conn net.Conn, index int, host, uri string) {
	e := h.engine.table.at(index)
	if _, err := conn.Write(e.response); err != nil {
		return
	}
	h.log.Info("Serving %s %s from cache", host, uri)
}

// fetchAndForward dials the origin, forwards the exact request bytes, streams
// the response back to the client while optionally accumulating a copy, and
// then runs the commit step. staleIndex is non-nil when lookup found a stale
// match for this key; admissible reflects whether the key itself is short
// enough to ever be cached.
func (h *Handler) fetchAndForward(ctx context.Context, client net.Conn, key []byte, host, uri string, staleIndex *int, admissible bool) {
	dial := h.dial
	var release func()
	if bal, ok := h.origins[host]; ok {
		if picked := bal.Pick(); picked != "" {
			release = bal.Acquire(picked)
			dial = func(ctx context.Context, _ string) (net.Conn, error) {
				return dialHostPort(ctx, picked)
			}
		}
	}

	h.log.Info("GETting %s %s", host, uri)

	dialStart := time.Now()
	origin, err := dial(ctx, host)
	metrics.ObserveOriginDial(time.Since(dialStart))
	if release != nil {
		defer release()
	}
	if err != nil {
		return
	}
	defer origin.Close()

	if _, err := origin.Write(key); err != nil {
		return
	}

	accumulate := h.cacheEnabled && admissible

	result, err := streamResponse(ctx, client, origin, accumulate, func(headerBlock []byte, contentLength int64) {
		if contentLength >= 0 {
			h.log.Info("Response body length %d", contentLength)
		}
	})
	metrics.BytesForwarded(result.totalForward)
	if err != nil {
		// A transport failure here never reaches commit, so the stale slot (if
		// any) is left untouched rather than released — it stays valid for the
		// next lookup, matching how a send-to-client failure is handled.
		return
	}

	if !h.cacheEnabled || !admissible {
		return
	}
	h.commit(key, result, host, uri, staleIndex)
}

// commit decides whether a freshly fetched response gets cached, branching on
// whether this fetch is replacing a stale slot or filling a fresh miss.
func (h *Handler) commit(key []byte, result streamResult, host, uri string, staleIndex *int) {
	cacheable := len(result.headerBlock) > 0 && isCacheableResponse(result.headerBlock)
	fits := int64(len(result.cached)) <= maxValueBytes

	if staleIndex != nil {
		if cacheable && fits {
			maxAge := extractMaxAge(result.headerBlock)
			h.engine.replaceStale(*staleIndex, key, result.cached, host, uri, maxAge)
		} else {
			h.engine.releaseStale(*staleIndex, host, uri)
		}
		return
	}

	if !cacheable || !fits {
		h.log.Info("Not caching %s %s", host, uri)
		metrics.CacheRefusal()
		return
	}

	maxAge := extractMaxAge(result.headerBlock)
	h.engine.admit(key, result.cached, host, uri, maxAge)
}
