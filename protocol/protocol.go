// Package protocol implements the line-oriented wire format shared by the
// server and its clients.
//
// A packet is a single line: the type followed by zero or more fields, all
// separated by '|'. Inside a field the characters '\', '|', ',', '\n' and '\r'
// are escaped with a backslash, so any text survives the trip. List replies
// carry one field per item, where the item is itself a field list joined
// with JoinFields.
package protocol

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidPacket = errors.New("invalid packet format")

type Packet struct {
	Type   string
	Fields []string
}

// Field returns the i-th field or "" when the packet is shorter.
func (p *Packet) Field(i int) string {
	if i < 0 || i >= len(p.Fields) {
		return ""
	}
	return p.Fields[i]
}

func ParsePacket(line string) (*Packet, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	parts := split(line)
	pktType := strings.TrimSpace(parts[0])
	if pktType == "" {
		return nil, ErrInvalidPacket
	}
	return &Packet{Type: pktType, Fields: parts[1:]}, nil
}

// FormatPacket renders a packet line including the trailing newline.
func FormatPacket(pktType string, fields ...string) string {
	var b strings.Builder
	b.WriteString(Escape(pktType))
	for _, f := range fields {
		b.WriteByte('|')
		b.WriteString(Escape(f))
	}
	b.WriteByte('\n')
	return b.String()
}

// JoinFields packs fields into one value suitable as a single packet field.
func JoinFields(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = Escape(f)
	}
	return strings.Join(escaped, "|")
}

// SplitFields reverses JoinFields.
func SplitFields(item string) []string {
	return split(item)
}

// split cuts s at every unescaped '|' and unescapes each part. An unknown
// escape keeps its backslash; a trailing lone backslash is kept as is.
func split(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false

	for _, r := range s {
		if escaped {
			escaped = false
			switch r {
			case '|', ',', '\\':
				cur.WriteRune(r)
			case 'n':
				cur.WriteByte('\n')
			case 'r':
				cur.WriteByte('\r')
			default:
				cur.WriteByte('\\')
				cur.WriteRune(r)
			}
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	return append(parts, cur.String())
}

func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '|', ',', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
