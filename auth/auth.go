// Package auth registers and authenticates users and owns the syntactic
// rules for passwords, emails and phone numbers.
package auth

import (
	"context"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"skillswap/db"
	"skillswap/models"
)

const MinPasswordLength = 8

// Store is the credential storage the service hashes into.
type Store interface {
	CreateUser(ctx context.Context, login, passwordHash string) error
	PasswordHash(ctx context.Context, login string) (string, error)
	UserExists(ctx context.Context, login string) (bool, error)
}

type Service struct {
	store       Store
	emailSuffix string
	cost        int
}

func New(store Store, emailSuffix string, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, emailSuffix: emailSuffix, cost: cost}
}

// Register validates every field and stores a bcrypt hash of password.
// The username check runs first so a taken name is reported before any
// field errors.
func (s *Service) Register(ctx context.Context, username, password, email, phone string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	exists, err := s.store.UserExists(ctx, username)
	if err != nil {
		return errors.Wrap(err, "failed to check username")
	}
	if exists {
		return models.ErrUsernameTaken
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if err := s.ValidateEmail(email); err != nil {
		return err
	}
	if err := s.ValidatePhone(phone); err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}
	if err := s.store.CreateUser(ctx, username, string(hashed)); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			return models.ErrUsernameTaken
		}
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

// Authenticate returns the user id for valid credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	hashed, err := s.store.PasswordHash(ctx, username)
	if errors.Is(err, db.ErrNoRows) {
		return "", models.ErrInvalidCredentials
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return "", models.ErrInvalidCredentials
	}
	return username, nil
}

func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.store.UserExists(ctx, username)
}

func ValidateUsername(username string) error {
	if username == "" || strings.TrimSpace(username) != username {
		return models.ErrInvalidUsername
	}
	return nil
}

// ValidatePassword requires MinPasswordLength runes, an uppercase letter and
// a rune that is neither letter nor digit.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return models.ErrWeakPassword
	}
	var hasUpper, hasSpecial bool
	for _, r := range password {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			hasSpecial = true
		}
	}
	if !hasUpper || !hasSpecial {
		return models.ErrWeakPassword
	}
	return nil
}

func (s *Service) ValidateEmail(email string) error {
	if len(email) <= len(s.emailSuffix) || !strings.HasSuffix(email, s.emailSuffix) {
		return errors.Wrapf(models.ErrInvalidEmail, "email must end with %s", s.emailSuffix)
	}
	return nil
}

func (s *Service) ValidatePhone(phone string) error {
	if len(phone) != 10 {
		return models.ErrInvalidPhone
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return models.ErrInvalidPhone
		}
	}
	return nil
}
