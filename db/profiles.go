package db

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"skillswap/logger"
	"skillswap/models"
)

const (
	skillOffered = "offered"
	skillNeeded  = "needed"
)

type contactRow struct {
	Login string `db:"login"`
	Email string `db:"email"`
	Phone string `db:"phone"`
}

type skillRow struct {
	Login    string `db:"login"`
	Kind     string `db:"kind"`
	Position int    `db:"position"`
	Skill    string `db:"skill"`
}

// SaveProfile replaces the stored contact record and both skill sets of
// p.Login.
func (db *DB) SaveProfile(ctx context.Context, p models.Profile) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (login, email, phone) VALUES (?, ?, ?)
			 ON CONFLICT(login) DO UPDATE SET email = excluded.email, phone = excluded.phone`,
			p.Login, p.Contact.Email, p.Contact.Phone,
		); err != nil {
			return errors.Wrap(err, "failed to save contact")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM skills WHERE login = ?", p.Login); err != nil {
			return errors.Wrap(err, "failed to clear skills")
		}
		if err := insertSkills(ctx, tx, p.Login, skillOffered, p.Offered); err != nil {
			return err
		}
		return insertSkills(ctx, tx, p.Login, skillNeeded, p.Needed)
	})
}

func insertSkills(ctx context.Context, tx *sqlx.Tx, login, kind string, skills []string) error {
	for i, skill := range skills {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO skills (login, kind, position, skill) VALUES (?, ?, ?, ?)",
			login, kind, i, skill,
		); err != nil {
			return errors.Wrapf(err, "failed to save %s skill", kind)
		}
	}
	return nil
}

// LoadProfiles returns every stored profile ordered by login.
func (db *DB) LoadProfiles(ctx context.Context) ([]models.Profile, error) {
	var contacts []contactRow
	if err := db.conn.SelectContext(ctx, &contacts, "SELECT login, email, phone FROM contacts ORDER BY login"); err != nil {
		return nil, errors.Wrap(err, "failed to load contacts")
	}

	var skills []skillRow
	if err := db.conn.SelectContext(ctx, &skills,
		"SELECT login, kind, position, skill FROM skills ORDER BY login, kind, position",
	); err != nil {
		return nil, errors.Wrap(err, "failed to load skills")
	}

	index := make(map[string]int)
	var profiles []models.Profile
	get := func(login string) *models.Profile {
		if i, ok := index[login]; ok {
			return &profiles[i]
		}
		index[login] = len(profiles)
		profiles = append(profiles, models.Profile{Login: login, Offered: []string{}, Needed: []string{}})
		return &profiles[len(profiles)-1]
	}

	for _, c := range contacts {
		get(c.Login).Contact = models.Contact{Email: c.Email, Phone: c.Phone}
	}
	for _, s := range skills {
		switch s.Kind {
		case skillOffered:
			p := get(s.Login)
			p.Offered = append(p.Offered, s.Skill)
		case skillNeeded:
			p := get(s.Login)
			p.Needed = append(p.Needed, s.Skill)
		default:
			logger.G(ctx).WithField("login", s.Login).WithField("kind", s.Kind).Warn("skipping skill row with unknown kind")
		}
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Login < profiles[j].Login })
	return profiles, nil
}
