package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDecodeRecord_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, fieldText, protowire.BytesType)
	b = protowire.AppendString(b, "hi")
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1, 2, 3})

	m, err := decodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Text)
}

func TestDecodeRecord_Malformed(t *testing.T) {
	b := protowire.AppendTag(nil, fieldText, protowire.BytesType)
	b = protowire.AppendVarint(b, 10) // claims 10 bytes, none follow

	_, err := decodeRecord(b)
	assert.Error(t, err)
}

func TestEncodeRecord_OmitsZeroFields(t *testing.T) {
	b := encodeRecord(nil, Message{Text: "x"})

	num, typ, n := protowire.ConsumeTag(b)
	require.Positive(t, n)
	assert.Equal(t, fieldText, num)
	assert.Equal(t, protowire.BytesType, typ)

	_, m := protowire.ConsumeString(b[n:])
	assert.Len(t, b, n+m)
}
