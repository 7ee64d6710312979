package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"skillswap/logger"
	"skillswap/models"
)

type messageRow struct {
	UserA    string `db:"user_a"`
	UserB    string `db:"user_b"`
	Position int    `db:"position"`
	Sender   string `db:"sender"`
	Body     string `db:"body"`
	SentAt   string `db:"sent_at"`
}

// SaveChannel creates the channel row for pair if needed and replaces its
// message log with messages.
func (db *DB) SaveChannel(ctx context.Context, pair models.Pair, messages []models.Message) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO channels (user_a, user_b, created_at) VALUES (?, ?, ?)",
			pair.A, pair.B, formatTime(time.Now()),
		); err != nil {
			return errors.Wrap(err, "failed to save channel")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE user_a = ? AND user_b = ?", pair.A, pair.B); err != nil {
			return errors.Wrap(err, "failed to clear messages")
		}
		for _, m := range messages {
			if err := insertMessage(ctx, tx, pair, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendMessage stores one message at its position in the channel of pair.
// A position that is already taken is an error; stored messages are never
// overwritten.
func (db *DB) AppendMessage(ctx context.Context, pair models.Pair, m models.Message) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertMessage(ctx, tx, pair, m)
	})
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, pair models.Pair, m models.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (user_a, user_b, position, sender, body, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pair.A, pair.B, m.Position, m.Sender, m.Text, formatTime(m.Timestamp),
	)
	return errors.Wrapf(err, "failed to save message %d", m.Position)
}

// LoadChannels returns every channel with its messages in append order.
// Messages whose sender is not a member of the pair are skipped.
func (db *DB) LoadChannels(ctx context.Context) (map[models.Pair][]models.Message, error) {
	var channels []pairRow
	if err := db.conn.SelectContext(ctx, &channels, "SELECT user_a, user_b, created_at FROM channels"); err != nil {
		return nil, errors.Wrap(err, "failed to load channels")
	}

	out := make(map[models.Pair][]models.Message, len(channels))
	for _, c := range channels {
		out[models.NewPair(c.UserA, c.UserB)] = []models.Message{}
	}

	var rows []messageRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT user_a, user_b, position, sender, body, sent_at FROM messages ORDER BY user_a, user_b, position",
	); err != nil {
		return nil, errors.Wrap(err, "failed to load messages")
	}

	for _, row := range rows {
		pair := models.NewPair(row.UserA, row.UserB)
		msgs, ok := out[pair]
		if !ok || !pair.Contains(row.Sender) {
			logger.G(ctx).WithField("pair", pair.String()).WithField("position", row.Position).Warn("skipping orphaned message")
			continue
		}
		out[pair] = append(msgs, models.Message{
			Position:  row.Position,
			Sender:    row.Sender,
			Text:      row.Body,
			Timestamp: parseTime(row.SentAt),
		})
	}
	return out, nil
}
