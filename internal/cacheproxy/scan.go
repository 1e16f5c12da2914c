package cacheproxy

import (
	"bytes"
	"errors"
)

// ErrMalformedRequest is returned by the header scanner when a request cannot be
// parsed well enough to be forwarded. The caller abandons the connection without
// writing a status back to the client.
var ErrMalformedRequest = errors.New("cacheproxy: malformed request")

const headerTerminator = "\r\n\r\n"

// locateHeaderTerminator returns the byte offset of the first CRLFCRLF in buf, or
// -1 if none is present yet. The key length for a request is this offset plus 4.
func locateHeaderTerminator(buf []byte) int {
	return bytes.Index(buf, []byte(headerTerminator))
}

// extractHostHeader finds the first "Host:" line (case-insensitive), matching at
// the start of the buffer or immediately after a '\n', and returns its value:
// leading spaces/tabs after the colon are skipped and everything up to the CRLF
// is kept, trailing spaces/tabs included. buf is expected to hold at least the
// full request-header block.
func extractHostHeader(buf []byte) (string, error) {
	lower := bytes.ToLower(buf)
	const needle = "host:"

	idx := -1
	if bytes.HasPrefix(lower, []byte(needle)) {
		idx = 0
	} else if i := bytes.Index(lower, []byte("\n"+needle)); i >= 0 {
		idx = i + 1
	}
	if idx < 0 {
		return "", ErrMalformedRequest
	}

	rest := buf[idx+len(needle):]
	rest = trimLeadingSpaceTab(rest)

	end := bytes.Index(rest, []byte("\r\n"))
	if end < 0 {
		return "", ErrMalformedRequest
	}
	return string(rest[:end]), nil
}

// extractRequestTarget locates the request-line (terminated by the first CRLF)
// and returns the substring between the first and second ASCII space, i.e. the
// request-target of "METHOD target HTTP/1.x".
func extractRequestTarget(buf []byte) (string, error) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return "", ErrMalformedRequest
	}
	line := buf[:lineEnd]

	firstSpace := bytes.IndexByte(line, ' ')
	if firstSpace < 0 {
		return "", ErrMalformedRequest
	}
	rest := line[firstSpace+1:]
	secondSpace := bytes.IndexByte(rest, ' ')
	if secondSpace < 0 {
		return "", ErrMalformedRequest
	}
	return string(rest[:secondSpace]), nil
}

func trimLeadingSpaceTab(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return b[i:]
}

// requestLastLine returns the last header line before the CRLFCRLF terminator,
// for the "Request tail <line>" liveness log. It walks backward from the
// terminator offset looking for the preceding CRLF. If the header block is a
// single line, the walk cannot look two bytes behind the cursor and stops at
// the buffer start, yielding the entire single line.
func requestLastLine(buf []byte, terminatorOffset int) string {
	cursor := terminatorOffset
	for cursor > 0 {
		if cursor >= 2 && buf[cursor-2] == '\r' && buf[cursor-1] == '\n' {
			break
		}
		cursor--
	}
	return string(buf[cursor:terminatorOffset])
}
