package models

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewPairIsCanonical(t *testing.T) {
	p1 := NewPair("zoe", "adam")
	p2 := NewPair("adam", "zoe")

	assert.Equal(t, p1, p2)
	assert.Equal(t, "adam", p1.A)
	assert.Equal(t, "zoe", p1.B)
}

func TestPairOther(t *testing.T) {
	p := NewPair("a_b", "b")

	other, ok := p.Other("a_b")
	assert.True(t, ok)
	assert.Equal(t, "b", other)

	other, ok = p.Other("b")
	assert.True(t, ok)
	assert.Equal(t, "a_b", other)

	_, ok = p.Other("a")
	assert.False(t, ok)
	assert.False(t, p.Contains("a"))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "duplicate_skill", Code(ErrDuplicateSkill))
	assert.Equal(t, "no_such_connection", Code(errors.Wrap(ErrNoSuchConnection, "send")))
	assert.Equal(t, "persistence", Code(Persist("save", errors.New("disk full"))))
	assert.Equal(t, "internal", Code(errors.New("boom")))

	var merr *multierror.Error
	merr = multierror.Append(merr, ErrInvalidPhone)
	assert.Equal(t, "invalid_phone", Code(merr.ErrorOrNil()))
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Persist("notifications", cause)

	var perr *PersistenceError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, "notifications", perr.Op)
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Persist("noop", nil))
}

func TestNotificationDescribe(t *testing.T) {
	req := Notification{Kind: KindConnectionRequest, From: "alice", Skill: "go"}
	assert.Equal(t, "alice wants to connect with you to learn go.", req.Describe())

	shared := Notification{Kind: KindContactShared, From: "bob", Email: "bob@gmail.com", Phone: "0123456789"}
	assert.Contains(t, shared.Describe(), "bob@gmail.com")
	assert.Contains(t, shared.Describe(), "0123456789")

	text := Notification{Kind: KindText, Text: "maintenance at noon"}
	assert.Equal(t, "maintenance at noon", text.Describe())
}
