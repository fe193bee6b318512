package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/infrastructure"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresPopupStore persists in-app notifications in
// user_popup_notification.
type PostgresPopupStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPopupStore wraps a shared connection pool.
func NewPostgresPopupStore(pool *pgxpool.Pool) *PostgresPopupStore {
	return &PostgresPopupStore{pool: pool}
}

// InsertPopup implements PopupStore.
func (s *PostgresPopupStore) InsertPopup(ctx context.Context, userID int64, subject, body, bodyFormat string, createdAt time.Time) error {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO user_popup_notification (user_id, subject, body, body_format, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, subject, body, bodyFormat, createdAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternalError, "insert popup notification", http.StatusInternalServerError)
	}
	return nil
}

// PostgresUserChannelStore reads personal channel selections from
// user_channel_preference.
type PostgresUserChannelStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserChannelStore wraps a shared connection pool.
func NewPostgresUserChannelStore(pool *pgxpool.Pool) *PostgresUserChannelStore {
	return &PostgresUserChannelStore{pool: pool}
}

// ChannelsFor implements UserChannelStore.
func (s *PostgresUserChannelStore) ChannelsFor(ctx context.Context, userID int64) ([]string, error) {
	q := infrastructure.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT channel FROM user_channel_preference
		WHERE user_id = $1
		ORDER BY channel`, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "load channel preferences", http.StatusInternalServerError)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var channel string
		if err := rows.Scan(&channel); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "scan channel preference", http.StatusInternalServerError)
		}
		out = append(out, channel)
	}
	return out, rows.Err()
}
