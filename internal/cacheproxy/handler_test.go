package cacheproxy

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/fcprojects/htcacheproxy/internal/applog"
)

// fakeOrigin accepts TCP connections and, for every request it receives,
// writes back the next response from responses (looping on the last one
// once exhausted). It counts how many connections it has served.
type fakeOrigin struct {
	ln        net.Listener
	responses [][]byte
	hits      int64
}

func startFakeOrigin(t *testing.T, responses ...[]byte) *fakeOrigin {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fo := &fakeOrigin{ln: ln, responses: responses}
	go fo.serve(t)
	t.Cleanup(func() { ln.Close() })
	return fo
}

func (fo *fakeOrigin) serve(t *testing.T) {
	for {
		conn, err := fo.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			buf := make([]byte, requestBufferSize)
			n, _, err := readRequestHeader(conn, buf)
			if err != nil || n == 0 {
				return
			}
			i := atomic.AddInt64(&fo.hits, 1) - 1
			resp := fo.responses[len(fo.responses)-1]
			if int(i) < len(fo.responses) {
				resp = fo.responses[i]
			}
			conn.Write(resp)
		}()
	}
}

func (fo *fakeOrigin) hitCount() int64 { return atomic.LoadInt64(&fo.hits) }

// dialTo returns a Handler dial function that ignores the requested host and
// always connects to the fake origin, letting tests avoid real DNS/network.
func dialTo(addr string) func(ctx context.Context, host string) (net.Conn, error) {
	return func(ctx context.Context, host string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// serveOverPipe drives h.Serve against one end of an in-memory pipe, writes
// request to the other end, and returns everything the handler wrote back
// before it closed the connection.
func serveOverPipe(t *testing.T, h *Handler, request []byte) []byte {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), serverSide)
		close(done)
	}()

	if _, err := clientSide.Write(request); err != nil {
		t.Fatalf("write request: %v", err)
	}

	out := make([]byte, 0, 256)
	buf := make([]byte, 256)
	for {
		n, err := clientSide.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	<-done
	clientSide.Close()
	return out
}

func newTestHandler(cacheEnabled bool, dial func(ctx context.Context, host string) (net.Conn, error)) *Handler {
	return NewHandler(cacheEnabled, applog.New("test", false), dial, nil)
}

const req = "GET /a HTTP/1.1\r\nHost: h\r\n\r\n"

func TestEndToEndColdMissThenWarmHit(t *testing.T) {
	origin := startFakeOrigin(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nABC"))
	h := newTestHandler(true, dialTo(origin.ln.Addr().String()))

	first := serveOverPipe(t, h, []byte(req))
	if string(first) != "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nABC" {
		t.Fatalf("first response = %q", first)
	}

	second := serveOverPipe(t, h, []byte(req))
	if string(second) != string(first) {
		t.Fatalf("second response = %q, want identical to first", second)
	}
	if got := origin.hitCount(); got != 1 {
		t.Fatalf("origin hit count = %d, want 1 (second request should be served from cache)", got)
	}
}

func TestEndToEndStaleReplacement(t *testing.T) {
	origin := startFakeOrigin(t,
		[]byte("HTTP/1.1 200 OK\r\nCache-Control: max-age=1\r\nContent-Length: 3\r\n\r\nABC"),
		[]byte("HTTP/1.1 200 OK\r\nCache-Control: max-age=1\r\nContent-Length: 3\r\n\r\nDEF"),
	)
	h := newTestHandler(true, dialTo(origin.ln.Addr().String()))

	serveOverPipe(t, h, []byte(req))
	if h.engine.table.size != 1 {
		t.Fatalf("size after first fetch = %d, want 1", h.engine.table.size)
	}

	// Force staleness without a real sleep.
	h.engine.table.at(0).cachedAt -= 2000

	second := serveOverPipe(t, h, []byte(req))
	if string(second) != "HTTP/1.1 200 OK\r\nCache-Control: max-age=1\r\nContent-Length: 3\r\n\r\nDEF" {
		t.Fatalf("second response = %q, want the re-fetched body", second)
	}
	if got := origin.hitCount(); got != 2 {
		t.Fatalf("origin hit count = %d, want 2", got)
	}
	if h.engine.table.size != 1 {
		t.Fatalf("size after stale replacement = %d, want 1 (slot reused, not grown)", h.engine.table.size)
	}
}

func TestEndToEndNoStoreRefusal(t *testing.T) {
	origin := startFakeOrigin(t, []byte("HTTP/1.1 200 OK\r\nCache-Control: no-store, max-age=60\r\nContent-Length: 3\r\n\r\nABC"))
	h := newTestHandler(true, dialTo(origin.ln.Addr().String()))

	serveOverPipe(t, h, []byte(req))
	if h.engine.table.size != 0 {
		t.Fatalf("size after no-store response = %d, want 0", h.engine.table.size)
	}

	serveOverPipe(t, h, []byte(req))
	if got := origin.hitCount(); got != 2 {
		t.Fatalf("origin hit count = %d, want 2 (no-store must re-fetch every time)", got)
	}
}

func TestEndToEndEvictionAtCapacity(t *testing.T) {
	origin := startFakeOrigin(t, []byte("HTTP/1.1 200 OK\r\nCache-Control: max-age=60\r\nContent-Length: 3\r\n\r\nABC"))
	h := newTestHandler(true, dialTo(origin.ln.Addr().String()))

	for i := 0; i < maxEntries; i++ {
		line := "GET /" + string(rune('a'+i)) + " HTTP/1.1\r\nHost: h\r\n\r\n"
		serveOverPipe(t, h, []byte(line))
	}
	if h.engine.table.size != maxEntries {
		t.Fatalf("size = %d, want %d", h.engine.table.size, maxEntries)
	}

	serveOverPipe(t, h, []byte("GET /eleventh HTTP/1.1\r\nHost: h\r\n\r\n"))
	if h.engine.table.size != maxEntries {
		t.Fatalf("size after 11th request = %d, want %d (capacity must not grow)", h.engine.table.size, maxEntries)
	}

	// the least-recently-used entry (the very first one admitted) should be gone
	firstKey := []byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n")
	if result := h.engine.lookup(firstKey); result.hit || result.staleIndex {
		t.Fatal("expected the first-admitted entry to have been evicted")
	}
}

func TestCacheDisabledNeverTouchesTable(t *testing.T) {
	origin := startFakeOrigin(t, []byte("HTTP/1.1 200 OK\r\nCache-Control: max-age=60\r\nContent-Length: 3\r\n\r\nABC"))
	h := newTestHandler(false, dialTo(origin.ln.Addr().String()))

	serveOverPipe(t, h, []byte(req))
	serveOverPipe(t, h, []byte(req))

	if h.engine.table.size != 0 {
		t.Fatalf("size = %d, want 0 with caching disabled", h.engine.table.size)
	}
	if got := origin.hitCount(); got != 2 {
		t.Fatalf("origin hit count = %d, want 2 (every request must re-fetch)", got)
	}
}
