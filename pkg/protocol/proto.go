package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtoCodecName names the length-prefixed protobuf codec.
const ProtoCodecName = "proto"

// Field numbers of the chat record.
const (
	fieldText         protowire.Number = 1
	fieldOrigin       protowire.Number = 2
	fieldSentUnixNano protowire.Number = 3
)

// ProtoCodec frames each message as a uvarint length followed by a protobuf record.
type ProtoCodec struct {
	MaxSize int
}

// Name implements Codec.
func (c *ProtoCodec) Name() string { return ProtoCodecName }

// Marshal implements Codec.
func (c *ProtoCodec) Marshal(m Message) ([]byte, error) {
	body := encodeRecord(nil, m)
	if c.MaxSize > 0 && len(body) > c.MaxSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
	buf = protowire.AppendVarint(buf, uint64(len(body)))
	return append(buf, body...), nil
}

// NewReader implements Codec.
func (c *ProtoCodec) NewReader(r io.Reader) Reader {
	limit := c.MaxSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	return &protoReader{r: bufio.NewReader(r), max: limit}
}

type protoReader struct {
	r   *bufio.Reader
	max int
}

func (r *protoReader) ReadMessage() (Message, error) {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("read frame length: %w", err)
	}
	if size > uint64(r.max) {
		return Message{}, ErrMessageTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}
	m, err := decodeRecord(body)
	if err != nil {
		return Message{}, err
	}
	m.Text = Trim(m.Text)
	return m, nil
}

func encodeRecord(b []byte, m Message) []byte {
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, Sanitize(m.Text))
	if m.Origin != "" {
		b = protowire.AppendTag(b, fieldOrigin, protowire.BytesType)
		b = protowire.AppendString(b, m.Origin)
	}
	if m.SentUnixNano != 0 {
		b = protowire.AppendTag(b, fieldSentUnixNano, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SentUnixNano))
	}
	return b
}

// decodeRecord skips unknown fields so newer senders stay readable.
func decodeRecord(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldText && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode text: %w", protowire.ParseError(n))
			}
			m.Text = v
			b = b[n:]
		case num == fieldOrigin && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode origin: %w", protowire.ParseError(n))
			}
			m.Origin = v
			b = b[n:]
		case num == fieldSentUnixNano && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode timestamp: %w", protowire.ParseError(n))
			}
			m.SentUnixNano = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}
