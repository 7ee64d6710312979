package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"skillswap/logger"
	"skillswap/models"
)

type notificationRow struct {
	ID        int64  `db:"id"`
	Recipient string `db:"recipient"`
	Position  int    `db:"position"`
	Kind      string `db:"kind"`
	Payload   []byte `db:"payload"`
	CreatedAt string `db:"created_at"`
}

type pairRow struct {
	UserA     string `db:"user_a"`
	UserB     string `db:"user_b"`
	CreatedAt string `db:"created_at"`
}

const notificationSequence = "notification"

// SaveNotifications replaces the notification sequence of recipient and
// raises the stored high-water mark of issued ids to lastID.
func (db *DB) SaveNotifications(ctx context.Context, recipient string, list []models.Notification, lastID int64) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sequences (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`,
			notificationSequence, lastID,
		); err != nil {
			return errors.Wrap(err, "failed to save notification sequence")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE recipient = ?", recipient); err != nil {
			return errors.Wrap(err, "failed to clear notifications")
		}
		for i, n := range list {
			payload, err := encodePayload(n)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO notifications (id, recipient, position, kind, payload, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				n.ID, recipient, i, string(n.Kind), payload, formatTime(n.CreatedAt),
			); err != nil {
				return errors.Wrapf(err, "failed to save notification %d", n.ID)
			}
		}
		return nil
	})
}

// LoadNotifications returns every stored sequence keyed by recipient.
// Rows with an unknown kind or an undecodable payload are skipped.
func (db *DB) LoadNotifications(ctx context.Context) (map[string][]models.Notification, error) {
	var rows []notificationRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT id, recipient, position, kind, payload, created_at FROM notifications ORDER BY recipient, position",
	); err != nil {
		return nil, errors.Wrap(err, "failed to load notifications")
	}

	out := make(map[string][]models.Notification)
	for _, row := range rows {
		n := models.Notification{
			ID:        row.ID,
			Recipient: row.Recipient,
			Kind:      models.NotificationKind(row.Kind),
			CreatedAt: parseTime(row.CreatedAt),
		}
		if !n.Kind.Valid() {
			logger.G(ctx).WithField("id", row.ID).WithField("kind", row.Kind).Warn("skipping notification with unknown kind")
			continue
		}
		if err := decodePayload(row.Payload, &n); err != nil {
			logger.G(ctx).WithError(err).WithField("id", row.ID).Warn("skipping corrupt notification")
			continue
		}
		out[row.Recipient] = append(out[row.Recipient], n)
	}
	return out, nil
}

// LastNotificationID returns the highest notification id ever issued, or 0.
func (db *DB) LastNotificationID(ctx context.Context) (int64, error) {
	var last int64
	err := db.conn.GetContext(ctx, &last, "SELECT value FROM sequences WHERE name = ?", notificationSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to load notification sequence")
	}
	return last, nil
}

// SaveConnection records an approved pair. Saving an existing pair is a no-op.
func (db *DB) SaveConnection(ctx context.Context, pair models.Pair, createdAt time.Time) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO connections (user_a, user_b, created_at) VALUES (?, ?, ?)",
			pair.A, pair.B, formatTime(createdAt),
		)
		return errors.Wrap(err, "failed to save connection")
	})
}

func (db *DB) LoadConnections(ctx context.Context) ([]models.Pair, error) {
	var rows []pairRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT user_a, user_b, created_at FROM connections ORDER BY user_a, user_b"); err != nil {
		return nil, errors.Wrap(err, "failed to load connections")
	}

	pairs := make([]models.Pair, 0, len(rows))
	for _, row := range rows {
		if row.UserA == "" || row.UserB == "" || row.UserA == row.UserB {
			logger.G(ctx).WithField("user_a", row.UserA).WithField("user_b", row.UserB).Warn("skipping malformed connection")
			continue
		}
		pairs = append(pairs, models.NewPair(row.UserA, row.UserB))
	}
	return pairs, nil
}
