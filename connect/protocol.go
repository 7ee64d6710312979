// Package connect implements the consent handshake between users: a
// connection request lands in the target's notifications, and only the
// target's approval discloses their contact record and opens a chat.
package connect

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"skillswap/models"
)

type Repository interface {
	// SaveNotifications replaces recipient's list and records lastID as the
	// highest id issued so far.
	SaveNotifications(ctx context.Context, recipient string, list []models.Notification, lastID int64) error
	LoadNotifications(ctx context.Context) (map[string][]models.Notification, error)
	LastNotificationID(ctx context.Context) (int64, error)
	SaveConnection(ctx context.Context, pair models.Pair, createdAt time.Time) error
	LoadConnections(ctx context.Context) ([]models.Pair, error)
}

// ContactSource supplies the contact record shared on approval.
type ContactSource interface {
	Contact(login string) models.Contact
}

// ChannelOpener creates the chat channel of an approved pair if absent.
type ChannelOpener interface {
	Open(ctx context.Context, pair models.Pair) error
}

// Response describes the outcome of answering a connection request.
type Response struct {
	Request  models.Notification
	Approved bool
	Pair     models.Pair
	// Shared is the notification delivered to the requester on approval.
	Shared *models.Notification
}

type Protocol struct {
	mu            sync.RWMutex
	notifications map[string][]models.Notification
	connections   map[models.Pair]struct{}
	nextID        int64

	repo     Repository
	contacts ContactSource
	channels ChannelOpener
	now      func() time.Time
}

func New(repo Repository, contacts ContactSource, channels ChannelOpener) *Protocol {
	return &Protocol{
		notifications: make(map[string][]models.Notification),
		connections:   make(map[models.Pair]struct{}),
		nextID:        1,
		repo:          repo,
		contacts:      contacts,
		channels:      channels,
		now:           time.Now,
	}
}

// Load replaces in-memory state with the repository contents. Notification
// ids continue after the highest id ever issued, so consumed ids are never
// handed out again.
func (p *Protocol) Load(ctx context.Context) error {
	notifications, err := p.repo.LoadNotifications(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load notifications")
	}
	maxID, err := p.repo.LastNotificationID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load notification sequence")
	}
	pairs, err := p.repo.LoadConnections(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load connections")
	}

	for _, list := range notifications {
		for _, n := range list {
			if n.ID > maxID {
				maxID = n.ID
			}
		}
	}
	connections := make(map[models.Pair]struct{}, len(pairs))
	for _, pair := range pairs {
		connections[pair] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = notifications
	p.connections = connections
	p.nextID = maxID + 1
	return nil
}

// Request files a connection request from requester in target's
// notifications. A request still waiting for an answer cannot be repeated.
func (p *Protocol) Request(ctx context.Context, requester, target, skill string) (models.Notification, error) {
	if requester == target {
		return models.Notification{}, models.ErrSelfConnection
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.notifications[target] {
		if n.Kind == models.KindConnectionRequest && n.From == requester {
			return models.Notification{}, errors.Wrapf(models.ErrDuplicateRequest, "to %s", target)
		}
	}

	n := p.push(target, models.Notification{
		Kind:  models.KindConnectionRequest,
		From:  requester,
		Skill: skill,
	})
	return n, p.saveNotifications(ctx, target)
}

// Respond answers the connection request id in recipient's notifications
// and consumes it. Approval shares recipient's contact with the requester,
// records the connection and opens its chat channel.
func (p *Protocol) Respond(ctx context.Context, recipient string, id int64, approve bool) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.notifications[recipient]
	idx := indexOf(list, id)
	if idx < 0 || list[idx].Kind != models.KindConnectionRequest {
		return Response{}, errors.Wrapf(models.ErrInvalidNotification, "id %d", id)
	}

	req := list[idx]
	p.notifications[recipient] = append(list[:idx:idx], list[idx+1:]...)
	resp := Response{Request: req, Approved: approve, Pair: models.NewPair(req.From, recipient)}

	var result *multierror.Error
	if err := p.saveNotifications(ctx, recipient); err != nil {
		result = multierror.Append(result, err)
	}
	if !approve {
		return resp, result.ErrorOrNil()
	}

	contact := p.contacts.Contact(recipient)
	shared := p.push(req.From, models.Notification{
		Kind:  models.KindContactShared,
		From:  recipient,
		Email: contact.Email,
		Phone: contact.Phone,
	})
	resp.Shared = &shared
	if err := p.saveNotifications(ctx, req.From); err != nil {
		result = multierror.Append(result, err)
	}

	if _, ok := p.connections[resp.Pair]; !ok {
		p.connections[resp.Pair] = struct{}{}
		if err := p.repo.SaveConnection(ctx, resp.Pair, p.now()); err != nil {
			result = multierror.Append(result, models.Persist("connection "+resp.Pair.String(), err))
		}
	}
	if err := p.channels.Open(ctx, resp.Pair); err != nil {
		result = multierror.Append(result, err)
	}
	return resp, result.ErrorOrNil()
}

// Dismiss removes an informational notification. Requests can only be
// consumed through Respond.
func (p *Protocol) Dismiss(ctx context.Context, user string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.notifications[user]
	idx := indexOf(list, id)
	if idx < 0 || list[idx].Kind == models.KindConnectionRequest {
		return errors.Wrapf(models.ErrInvalidNotification, "id %d", id)
	}
	p.notifications[user] = append(list[:idx:idx], list[idx+1:]...)
	return p.saveNotifications(ctx, user)
}

// Announce appends a text notification for every recipient and returns the
// delivered notifications.
func (p *Protocol) Announce(ctx context.Context, recipients []string, text string) ([]models.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	sent := make([]models.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		sent = append(sent, p.push(recipient, models.Notification{Kind: models.KindText, Text: text}))
		if err := p.saveNotifications(ctx, recipient); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return sent, result.ErrorOrNil()
}

// Notifications returns a copy of user's notifications in arrival order.
func (p *Protocol) Notifications(user string) []models.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]models.Notification{}, p.notifications[user]...)
}

func (p *Protocol) Connected(a, b string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.connections[models.NewPair(a, b)]
	return ok
}

// Connections lists user's approved partners in lexical order.
func (p *Protocol) Connections(user string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	partners := []string{}
	for pair := range p.connections {
		if other, ok := pair.Other(user); ok {
			partners = append(partners, other)
		}
	}
	sort.Strings(partners)
	return partners
}

// Pairs returns every approved pair.
func (p *Protocol) Pairs() []models.Pair {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pairs := make([]models.Pair, 0, len(p.connections))
	for pair := range p.connections {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Flush re-saves every notification sequence and connection.
func (p *Protocol) Flush(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result *multierror.Error
	for recipient := range p.notifications {
		if err := p.saveNotifications(ctx, recipient); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for pair := range p.connections {
		if err := p.repo.SaveConnection(ctx, pair, p.now()); err != nil {
			result = multierror.Append(result, models.Persist("connection "+pair.String(), err))
		}
	}
	return result.ErrorOrNil()
}

// push must be called with p.mu held.
func (p *Protocol) push(recipient string, n models.Notification) models.Notification {
	n.ID = p.nextID
	p.nextID++
	n.Recipient = recipient
	n.CreatedAt = p.now()
	p.notifications[recipient] = append(p.notifications[recipient], n)
	return n
}

// saveNotifications must be called with p.mu held.
func (p *Protocol) saveNotifications(ctx context.Context, recipient string) error {
	list := append([]models.Notification(nil), p.notifications[recipient]...)
	return models.Persist("notifications "+recipient, p.repo.SaveNotifications(ctx, recipient, list, p.nextID-1))
}

func indexOf(list []models.Notification, id int64) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}
