// Package match finds teachers for the skills a user wants to learn.
package match

import (
	"strings"

	"skillswap/models"
)

// Profiles is the read side of the skill store.
type Profiles interface {
	Users() []string
	Profile(login string) models.Profile
}

type Finder struct {
	profiles Profiles
}

func NewFinder(profiles Profiles) *Finder {
	return &Finder{profiles: profiles}
}

// Find returns one match per teacher, in login order, naming the first of
// the seeker's needs (in the order they were added) the teacher offers.
func (f *Finder) Find(seeker string) ([]models.Match, error) {
	needs := f.profiles.Profile(seeker).Needed
	if len(needs) == 0 {
		return nil, models.ErrNoNeedsDefined
	}

	matches := []models.Match{}
	for _, teacher := range f.profiles.Users() {
		if teacher == seeker {
			continue
		}
		offered := f.profiles.Profile(teacher).Offered
		for _, need := range needs {
			if offers(offered, need) {
				matches = append(matches, models.Match{Teacher: teacher, Skill: need})
				break
			}
		}
	}
	return matches, nil
}

func offers(offered []string, need string) bool {
	for _, skill := range offered {
		if strings.EqualFold(skill, need) {
			return true
		}
	}
	return false
}
