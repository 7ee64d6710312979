// Package chat keeps the append-only message log of every approved pair.
package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"skillswap/logger"
	"skillswap/models"
)

type Repository interface {
	SaveChannel(ctx context.Context, pair models.Pair, messages []models.Message) error
	AppendMessage(ctx context.Context, pair models.Pair, m models.Message) error
	LoadChannels(ctx context.Context) (map[models.Pair][]models.Message, error)
}

type Store struct {
	mu       sync.RWMutex
	channels map[models.Pair][]models.Message
	repo     Repository
	now      func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{
		channels: make(map[models.Pair][]models.Message),
		repo:     repo,
		now:      time.Now,
	}
}

// Load replaces the in-memory channels with the repository contents,
// renumbering messages so positions stay contiguous. A renumbered channel is
// written back so later appends land after every stored message.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.repo.LoadChannels(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load channels")
	}

	channels := make(map[models.Pair][]models.Message, len(loaded))
	for pair, msgs := range loaded {
		log := make([]models.Message, len(msgs))
		renumbered := false
		for i, m := range msgs {
			if m.Position != i {
				m.Position = i
				renumbered = true
			}
			log[i] = m
		}
		channels[pair] = log

		if renumbered {
			if err := s.repo.SaveChannel(ctx, pair, append([]models.Message(nil), log...)); err != nil {
				logger.G(ctx).WithError(err).WithField("pair", pair.String()).Warn("failed to rewrite renumbered channel")
			}
		}
	}

	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
	return nil
}

// Open creates the empty channel of pair. Opening an existing channel is a
// no-op.
func (s *Store) Open(ctx context.Context, pair models.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[pair]; ok {
		return nil
	}
	s.channels[pair] = []models.Message{}
	return models.Persist("channel "+pair.String(), s.repo.SaveChannel(ctx, pair, nil))
}

// Send appends text from sender to the channel shared with recipient.
func (s *Store) Send(ctx context.Context, sender, recipient, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, models.ErrEmptyMessage
	}
	pair := models.NewPair(sender, recipient)

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.channels[pair]
	if !ok || sender == recipient {
		return models.Message{}, errors.Wrapf(models.ErrNoSuchConnection, "with %s", recipient)
	}

	m := models.Message{
		Position:  len(log),
		Sender:    sender,
		Text:      text,
		Timestamp: s.now(),
	}
	s.channels[pair] = append(log, m)
	return m, models.Persist("message "+pair.String(), s.repo.AppendMessage(ctx, pair, m))
}

// History returns the channel log in append order. The result is the same
// from either participant's side.
func (s *Store) History(user, other string) ([]models.Message, error) {
	pair := models.NewPair(user, other)

	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.channels[pair]
	if !ok || user == other {
		return nil, errors.Wrapf(models.ErrNoSuchConnection, "with %s", other)
	}
	return append([]models.Message{}, log...), nil
}

// Channels lists the pairs user chats in.
func (s *Store) Channels(user string) []models.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []models.Pair
	for pair := range s.channels {
		if pair.Contains(user) {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Flush re-saves every channel with its full log.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *multierror.Error
	for pair, log := range s.channels {
		if err := s.repo.SaveChannel(ctx, pair, append([]models.Message(nil), log...)); err != nil {
			result = multierror.Append(result, models.Persist("channel "+pair.String(), err))
		}
	}
	return result.ErrorOrNil()
}
