package models

import (
	"strings"
	"time"
)

type User struct {
	Login    string
	Password string // hashed
}

type Contact struct {
	Email string
	Phone string
}

// Profile is a read-only snapshot of a user's skill sets and contact record.
type Profile struct {
	Login   string
	Offered []string
	Needed  []string
	Contact Contact
}

// Match is a teacher able to teach one of the seeker's needed skills.
type Match struct {
	Teacher string
	Skill   string
}

// Pair is an unordered pair of users stored with A < B.
type Pair struct {
	A string
	B string
}

// NewPair canonicalizes x and y so that NewPair(x, y) == NewPair(y, x).
func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

func (p Pair) Contains(login string) bool {
	return p.A == login || p.B == login
}

// Other returns the partner of login in the pair.
func (p Pair) Other(login string) (string, bool) {
	switch login {
	case p.A:
		return p.B, true
	case p.B:
		return p.A, true
	}
	return "", false
}

// String is for logs only; identity is the struct value.
func (p Pair) String() string {
	return p.A + "+" + p.B
}

type NotificationKind string

const (
	KindConnectionRequest NotificationKind = "connection_request"
	KindContactShared     NotificationKind = "contact_shared"
	KindText              NotificationKind = "text"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case KindConnectionRequest, KindContactShared, KindText:
		return true
	}
	return false
}

type Notification struct {
	ID        int64
	Recipient string
	Kind      NotificationKind
	From      string // request, contact_shared
	Skill     string // request
	Email     string // contact_shared
	Phone     string // contact_shared
	Text      string // text
	CreatedAt time.Time
}

// Describe renders the notification the way the front end lists it.
func (n Notification) Describe() string {
	switch n.Kind {
	case KindConnectionRequest:
		if n.Skill != "" {
			return n.From + " wants to connect with you to learn " + n.Skill + "."
		}
		return n.From + " wants to connect with you for skill exchange."
	case KindContactShared:
		var b strings.Builder
		b.WriteString(n.From)
		b.WriteString(" has shared their contact details with you: email ")
		b.WriteString(n.Email)
		b.WriteString(", phone ")
		b.WriteString(n.Phone)
		return b.String()
	default:
		return n.Text
	}
}

type Message struct {
	Position  int
	Sender    string
	Text      string
	Timestamp time.Time
}
