package cacheproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
)

// requestBufferSize is the fixed-size buffer the handler reads a request
// header into; a header that never completes within this many bytes is
// abandoned rather than grown, matching the bounded-memory design of the
// core.
const requestBufferSize = 64 * 1024

// ErrHeaderTooLarge is returned when no CRLFCRLF terminator appears within
// requestBufferSize bytes.
var ErrHeaderTooLarge = errors.New("cacheproxy: request header exceeds buffer")

// readRequestHeader fills buf from conn until the header terminator appears,
// the buffer is exhausted, or conn errors. It returns the number of bytes read
// (which may include bytes past the terminator, e.g. if the client pipelines)
// and the offset of the terminator.
func readRequestHeader(conn net.Conn, buf []byte) (n int, terminatorOffset int, err error) {
	for n < len(buf) {
		read, rerr := conn.Read(buf[n:])
		n += read
		if idx := bytes.Index(buf[:n], []byte(headerTerminator)); idx >= 0 {
			return n, idx, nil
		}
		if rerr != nil {
			if rerr == io.EOF {
				return n, -1, ErrMalformedRequest
			}
			return n, -1, rerr
		}
	}
	return n, -1, ErrHeaderTooLarge
}

// streamResult reports how a response stream ended.
type streamResult struct {
	headerBlock   []byte // the accumulated response header prefix, up to CRLFCRLF
	totalForward  int64  // bytes forwarded to the client
	contentLength int64  // -1 when absent
	cached        []byte // accumulated copy of the full response; nil if dropped or disabled
}

// streamResponse reads from origin, forwarding every chunk to client
// immediately and, while accumulate is true, appending the same bytes to a
// growable buffer. Reading stops once (header length + Content-Length) bytes
// have been forwarded, or when origin closes the connection — whichever comes
// first. Absence of a parseable Content-Length means "until origin closes".
func streamResponse(ctx context.Context, client io.Writer, origin io.Reader, accumulate bool, onHeaderKnown func(headerBlock []byte, contentLength int64)) (streamResult, error) {
	var (
		chunk         [32 * 1024]byte
		acc           []byte
		scan          []byte // header bytes seen so far, kept until the terminator is found
		forwarded     int64
		headerSeen    bool
		headerBlock   []byte
		contentLength int64 = -1
		limit         int64 = -1 // header bytes + content-length once known
	)

	for {
		readN, rerr := origin.Read(chunk[:])
		if readN > 0 {
			if _, werr := client.Write(chunk[:readN]); werr != nil {
				return streamResult{}, werr
			}
			forwarded += int64(readN)

			if accumulate {
				acc = appendGrowable(acc, chunk[:readN])
			}

			if !headerSeen {
				scan = append(scan, chunk[:readN]...)
				if idx := bytes.Index(scan, []byte(headerTerminator)); idx >= 0 {
					headerSeen = true
					headerBlock = scan[:idx+len(headerTerminator)]
					contentLength = parseContentLength(headerBlock)
					if contentLength >= 0 {
						limit = int64(len(headerBlock)) + contentLength
					}
					if onHeaderKnown != nil {
						onHeaderKnown(headerBlock, contentLength)
					}
				}
			}

			if limit >= 0 && forwarded >= limit {
				break
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return streamResult{}, rerr
		}
	}

	return streamResult{
		headerBlock:   headerBlock,
		totalForward:  forwarded,
		contentLength: contentLength,
		cached:        acc,
	}, nil
}

// appendGrowable appends src to dst, standing in for the realloc-by-doubling
// accumulator of the byte-scanning original; append already grows as needed.
func appendGrowable(dst []byte, src []byte) []byte {
	return append(dst, src...)
}

// parseContentLength extracts the Content-Length value from a response header
// block, returning -1 if absent or unparseable. Unlike extractMaxAge, the
// entire value up to the line end must be digits — a malformed
// Content-Length is treated as absent rather than truncated, since forwarding
// beyond a garbled length would misframe the response.
func parseContentLength(headerBlock []byte) int64 {
	lower := bytes.ToLower(headerBlock)
	const needle = "content-length:"

	idx := -1
	if bytes.HasPrefix(lower, []byte(needle)) {
		idx = 0
	} else if i := bytes.Index(lower, []byte("\n"+needle)); i >= 0 {
		idx = i + 1
	}
	if idx < 0 {
		return -1
	}

	rest := headerBlock[idx+len(needle):]
	rest = trimLeadingSpaceTab(rest)
	lineEnd := bytes.IndexAny(rest, "\r\n")
	if lineEnd < 0 {
		lineEnd = len(rest)
	}
	digits := rest[:lineEnd]
	if len(digits) == 0 {
		return -1
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return -1
		}
	}
	return int64(parseUint32Saturating(digits))
}
