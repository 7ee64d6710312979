package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		line   string
		typ    string
		fields []string
	}{
		{"ping\n", "ping", []string{}},
		{"auth|alice|Secret#123\r\n", "auth", []string{"alice", "Secret#123"}},
		{`msg|bob|a\|b\,c\\d\ne`, "msg", []string{"bob", "a|b,c\\d\ne"}},
		{"contact||0123456789", "contact", []string{"", "0123456789"}},
		{`msg|bob|trailing\`, "msg", []string{"bob", `trailing\`}},
		{`msg|bob|\q`, "msg", []string{"bob", `\q`}},
		{"msg|bob|hi  \t", "msg", []string{"bob", "hi  \t"}},
		{" ping \r\n", "ping", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			pkt, err := ParsePacket(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, pkt.Type)
			assert.Equal(t, len(tt.fields), len(pkt.Fields))
			for i := range tt.fields {
				assert.Equal(t, tt.fields[i], pkt.Field(i))
			}
		})
	}
}

func TestParsePacketEmpty(t *testing.T) {
	_, err := ParsePacket("\n")
	assert.ErrorIs(t, err, ErrInvalidPacket)
	_, err = ParsePacket("|x")
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestFormatParseRoundTrip(t *testing.T) {
	fields := []string{"plain", "pipe|inside", "comma,inside", `back\slash`, "new\nline", "cr\rhere", ""}

	line := FormatPacket("msg", fields...)
	assert.Equal(t, 1, countNewlines(line))

	pkt, err := ParsePacket(line)
	require.NoError(t, err)
	assert.Equal(t, "msg", pkt.Type)
	assert.Equal(t, fields, pkt.Fields)
	assert.Equal(t, "", pkt.Field(42))
}

func TestNestedFields(t *testing.T) {
	items := [][]string{
		{"7", "connection_request", "alice", "c++|go"},
		{"8", "text", "", "line one\nline two, with \\ and |"},
	}

	var outer []string
	for _, item := range items {
		outer = append(outer, JoinFields(item...))
	}
	pkt, err := ParsePacket(FormatPacket("notif", outer...))
	require.NoError(t, err)
	require.Len(t, pkt.Fields, 2)

	for i, field := range pkt.Fields {
		assert.Equal(t, items[i], SplitFields(field))
	}
}

func countNewlines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
