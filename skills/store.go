// Package skills keeps each user's offered and needed skill sets together
// with the contact record disclosed on approved connections.
package skills

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"skillswap/models"
)

type Repository interface {
	SaveProfile(ctx context.Context, p models.Profile) error
	LoadProfiles(ctx context.Context) ([]models.Profile, error)
}

// ContactValidator checks contact fields before they replace stored ones.
type ContactValidator interface {
	ValidateEmail(email string) error
	ValidatePhone(phone string) error
}

type profile struct {
	offered []string
	needed  []string
	contact models.Contact
}

// Store is safe for concurrent use. A skill never sits in both sets of
// the same user.
type Store struct {
	mu        sync.RWMutex
	profiles  map[string]*profile
	repo      Repository
	validator ContactValidator
}

func NewStore(repo Repository, validator ContactValidator) *Store {
	return &Store{
		profiles:  make(map[string]*profile),
		repo:      repo,
		validator: validator,
	}
}

// Normalize lowercases and trims a skill label.
func Normalize(skill string) string {
	return strings.ToLower(strings.TrimSpace(skill))
}

// Load replaces the in-memory profiles with the repository contents.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.repo.LoadProfiles(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load profiles")
	}

	profiles := make(map[string]*profile, len(loaded))
	for _, p := range loaded {
		profiles[p.Login] = &profile{
			offered: dedupe(p.Offered, nil),
			needed:  dedupe(p.Needed, p.Offered),
			contact: p.Contact,
		}
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

// dedupe normalizes skills and drops duplicates and members of exclude, so
// that a hand-edited database cannot break the no-overlap invariant.
func dedupe(skills, exclude []string) []string {
	seen := make(map[string]bool, len(skills)+len(exclude))
	for _, e := range exclude {
		seen[Normalize(e)] = true
	}
	out := make([]string, 0, len(skills))
	for _, skill := range skills {
		n := Normalize(skill)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Register creates the profile of a newly registered user.
func (s *Store) Register(ctx context.Context, login string, contact models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreate(login)
	p.contact = contact
	return s.save(ctx, login, p)
}

func (s *Store) AddOffered(ctx context.Context, login, skill string) (string, error) {
	return s.add(ctx, login, skill, true)
}

func (s *Store) AddNeeded(ctx context.Context, login, skill string) (string, error) {
	return s.add(ctx, login, skill, false)
}

func (s *Store) add(ctx context.Context, login, skill string, offered bool) (string, error) {
	skill = Normalize(skill)
	if skill == "" {
		return "", models.ErrEmptySkill
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreate(login)
	target, opposite := &p.needed, p.offered
	if offered {
		target, opposite = &p.offered, p.needed
	}
	if contains(*target, skill) {
		return "", errors.Wrapf(models.ErrDuplicateSkill, "%q", skill)
	}
	if contains(opposite, skill) {
		return "", errors.Wrapf(models.ErrConflictingSkill, "%q", skill)
	}

	*target = append(*target, skill)
	return skill, s.save(ctx, login, p)
}

// UpdateContact applies each non-blank field that passes validation.
// Invalid fields are reported together and leave the stored value alone.
func (s *Store) UpdateContact(ctx context.Context, login string, email, phone *string) (models.Contact, error) {
	var result *multierror.Error

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreate(login)
	changed := false
	if email != nil && strings.TrimSpace(*email) != "" {
		if err := s.validator.ValidateEmail(*email); err != nil {
			result = multierror.Append(result, err)
		} else {
			p.contact.Email = *email
			changed = true
		}
	}
	if phone != nil && strings.TrimSpace(*phone) != "" {
		if err := s.validator.ValidatePhone(*phone); err != nil {
			result = multierror.Append(result, err)
		} else {
			p.contact.Phone = *phone
			changed = true
		}
	}

	if changed {
		if err := s.save(ctx, login, p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return p.contact, result.ErrorOrNil()
}

// Profile returns a copy of the user's profile. Unknown users get empty sets.
func (s *Store) Profile(login string) models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.Profile{Login: login, Offered: []string{}, Needed: []string{}}
	if p, ok := s.profiles[login]; ok {
		out.Offered = append(out.Offered, p.offered...)
		out.Needed = append(out.Needed, p.needed...)
		out.Contact = p.contact
	}
	return out
}

func (s *Store) Contact(login string) models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[login]; ok {
		return p.contact
	}
	return models.Contact{}
}

// Users lists every login with a profile in lexical order.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.profiles))
	for login := range s.profiles {
		users = append(users, login)
	}
	sort.Strings(users)
	return users
}

// Flush re-saves every profile, for retrying after persistence errors.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *multierror.Error
	for login, p := range s.profiles {
		if err := s.save(ctx, login, p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Store) getOrCreate(login string) *profile {
	p, ok := s.profiles[login]
	if !ok {
		p = &profile{offered: []string{}, needed: []string{}}
		s.profiles[login] = p
	}
	return p
}

// save must be called with s.mu held.
func (s *Store) save(ctx context.Context, login string, p *profile) error {
	err := s.repo.SaveProfile(ctx, models.Profile{
		Login:   login,
		Offered: append([]string(nil), p.offered...),
		Needed:  append([]string(nil), p.needed...),
		Contact: p.contact,
	})
	return models.Persist("profile "+login, err)
}

func contains(list []string, skill string) bool {
	for _, s := range list {
		if strings.EqualFold(s, skill) {
			return true
		}
	}
	return false
}
