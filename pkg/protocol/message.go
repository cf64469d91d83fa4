// Package protocol defines the chat message and the codecs that frame it on the wire.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// DefaultMaxMessageSize bounds a single framed message.
const DefaultMaxMessageSize = 64 * 1024

// ErrMessageTooLarge is returned when a frame exceeds the codec's size limit.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// Message represents one chat line.
type Message struct {
	Text string
	// Origin is the id of the connection the authority received the message from.
	// Only codecs that carry metadata populate it.
	Origin string
	// SentUnixNano is set by codecs that carry a timestamp.
	SentUnixNano int64
}

// Empty reports whether the message carries no visible text.
func (m Message) Empty() bool {
	return m.Text == ""
}

// Reader decodes successive messages from one stream.
type Reader interface {
	// ReadMessage returns the next message. It returns io.EOF at end of stream.
	ReadMessage() (Message, error)
}

// Codec frames messages on a byte stream.
type Codec interface {
	Name() string
	NewReader(r io.Reader) Reader
	Marshal(m Message) ([]byte, error)
}

// NewCodec returns the codec registered under name. maxSize <= 0 selects DefaultMaxMessageSize.
func NewCodec(name string, maxSize int) (Codec, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	switch name {
	case "", LineCodecName:
		return &LineCodec{MaxSize: maxSize}, nil
	case ProtoCodecName:
		return &ProtoCodec{MaxSize: maxSize}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Trim strips surrounding whitespace and control characters.
func Trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// SplitLines splits a payload into trimmed, non-empty lines.
func SplitLines(payload string) []string {
	var lines []string
	for _, line := range strings.Split(payload, "\n") {
		if t := Trim(line); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// Sanitize replaces line terminators so the text stays a single line.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, text)
}

// LineCodecName names the newline-delimited codec.
const LineCodecName = "line"

// LineCodec frames each message as one UTF-8 line terminated by '\n'.
type LineCodec struct {
	MaxSize int
}

// Name implements Codec.
func (c *LineCodec) Name() string { return LineCodecName }

// Marshal implements Codec. Embedded line terminators are replaced by spaces.
func (c *LineCodec) Marshal(m Message) ([]byte, error) {
	text := Sanitize(m.Text)
	if c.MaxSize > 0 && len(text)+1 > c.MaxSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	return append(buf, '\n'), nil
}

// NewReader implements Codec.
func (c *LineCodec) NewReader(r io.Reader) Reader {
	limit := c.MaxSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	sc := bufio.NewScanner(r)
	initial := 4096
	if initial > limit {
		initial = limit
	}
	sc.Buffer(make([]byte, 0, initial), limit)
	return &lineReader{scanner: sc}
}

type lineReader struct {
	scanner *bufio.Scanner
}

// ReadMessage returns the next trimmed line. Empty lines come back as empty messages;
// callers decide whether to surface them.
func (r *lineReader) ReadMessage() (Message, error) {
	if !r.scanner.Scan() {
		err := r.scanner.Err()
		if err == nil {
			return Message{}, io.EOF
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return Message{}, ErrMessageTooLarge
		}
		return Message{}, err
	}
	return Message{Text: Trim(r.scanner.Text())}, nil
}
