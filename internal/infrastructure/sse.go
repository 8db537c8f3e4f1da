package infrastructure

import (
	"bytes"
	"strings"
)

// SSEEvent is one parsed Server-Sent-Events frame.
type SSEEvent struct {
	Type string
	Data string
	ID   string
}

// SSEParser incrementally parses an SSE byte stream. Events are blocks
// separated by a blank line; a block that has not been fully received yet
// stays buffered until the next Feed call completes it.
type SSEParser struct {
	buf []byte
}

// Feed appends a chunk to the buffer and returns the events completed by it.
// Chunks may split events, lines, or even UTF-8 sequences at any byte
// position.
func (p *SSEParser) Feed(chunk []byte) []SSEEvent {
	p.buf = append(p.buf, chunk...)

	var events []SSEEvent
	for {
		block, rest, ok := nextBlock(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	return events
}

// nextBlock splits off the first complete event block, if any. Blocks end at
// the earlier of "\n\n" and "\r\n\r\n".
func nextBlock(buf []byte) (block, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return buf[:crlf], buf[crlf+4:], true
	case lf >= 0:
		return buf[:lf], buf[lf+2:], true
	default:
		return nil, buf, false
	}
}

// parseBlock extracts the event, data, and id fields from one block.
// Comment lines and unknown fields are skipped; a block with no recognized
// fields yields no event. Malformed UTF-8 is replaced, not rejected.
func parseBlock(block []byte) (SSEEvent, bool) {
	var ev SSEEvent
	var dataLines []string
	seen := false

	text := strings.ToValidUTF8(string(block), "�")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
			seen = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			seen = true
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimPrefix(strings.TrimPrefix(line, "id:"), " ")
			seen = true
		}
	}
	if !seen {
		return SSEEvent{}, false
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, true
}
