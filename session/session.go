package session

import (
	"context"

	"github.com/pkg/errors"

	"skillswap/connect"
	"skillswap/models"
)

// Session is the state of one client. It is not safe for concurrent use;
// the shared components behind it are.
type Session struct {
	core *Core
	user string
}

func New(core *Core) *Session {
	return &Session{core: core}
}

// Register creates the account and its profile. It does not log in.
func (s *Session) Register(ctx context.Context, username, password, email, phone string) error {
	if err := s.core.Auth.Register(ctx, username, password, email, phone); err != nil {
		return err
	}
	return s.core.Profiles.Register(ctx, username, models.Contact{Email: email, Phone: phone})
}

// Login authenticates and makes username the current user, replacing any
// previous one.
func (s *Session) Login(ctx context.Context, username, password string) error {
	user, err := s.core.Auth.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	s.user = user
	return nil
}

func (s *Session) Logout() {
	s.user = ""
}

// CurrentUser returns the logged-in username, or "" when logged out.
func (s *Session) CurrentUser() string {
	return s.user
}

func (s *Session) requireUser() (string, error) {
	if s.user == "" {
		return "", models.ErrNotAuthenticated
	}
	return s.user, nil
}

func (s *Session) AddOffered(ctx context.Context, skill string) (string, error) {
	user, err := s.requireUser()
	if err != nil {
		return "", err
	}
	return s.core.Profiles.AddOffered(ctx, user, skill)
}

func (s *Session) AddNeeded(ctx context.Context, skill string) (string, error) {
	user, err := s.requireUser()
	if err != nil {
		return "", err
	}
	return s.core.Profiles.AddNeeded(ctx, user, skill)
}

func (s *Session) Profile() (models.Profile, error) {
	user, err := s.requireUser()
	if err != nil {
		return models.Profile{}, err
	}
	return s.core.Profiles.Profile(user), nil
}

// UpdateContact changes the given fields; nil or blank leaves a field as is.
func (s *Session) UpdateContact(ctx context.Context, email, phone *string) (models.Contact, error) {
	user, err := s.requireUser()
	if err != nil {
		return models.Contact{}, err
	}
	return s.core.Profiles.UpdateContact(ctx, user, email, phone)
}

func (s *Session) FindMatches() ([]models.Match, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	return s.core.Matcher.Find(user)
}

// RequestConnection asks target to connect over skill.
func (s *Session) RequestConnection(ctx context.Context, target, skill string) (models.Notification, error) {
	user, err := s.requireUser()
	if err != nil {
		return models.Notification{}, err
	}
	if target != user {
		exists, err := s.core.Auth.Exists(ctx, target)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "failed to look up target")
		}
		if !exists {
			return models.Notification{}, errors.Wrapf(models.ErrUnknownUser, "%q", target)
		}
	}
	return s.core.Connections.Request(ctx, user, target, skill)
}

func (s *Session) Notifications() ([]models.Notification, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	return s.core.Connections.Notifications(user), nil
}

func (s *Session) Respond(ctx context.Context, id int64, approve bool) (connect.Response, error) {
	user, err := s.requireUser()
	if err != nil {
		return connect.Response{}, err
	}
	return s.core.Connections.Respond(ctx, user, id, approve)
}

func (s *Session) Dismiss(ctx context.Context, id int64) error {
	user, err := s.requireUser()
	if err != nil {
		return err
	}
	return s.core.Connections.Dismiss(ctx, user, id)
}

// Connections lists the users the current user can chat with.
func (s *Session) Connections() ([]string, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	return s.core.Connections.Connections(user), nil
}

func (s *Session) Send(ctx context.Context, to, text string) (models.Message, error) {
	user, err := s.requireUser()
	if err != nil {
		return models.Message{}, err
	}
	return s.core.Chats.Send(ctx, user, to, text)
}

func (s *Session) History(with string) ([]models.Message, error) {
	user, err := s.requireUser()
	if err != nil {
		return nil, err
	}
	return s.core.Chats.History(user, with)
}

// Save retries persisting every collection.
func (s *Session) Save(ctx context.Context) error {
	if _, err := s.requireUser(); err != nil {
		return err
	}
	return s.core.Flush(ctx)
}
