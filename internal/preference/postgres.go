package preference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coursepulse.io/notifier/internal/extctx"
	apperrors "coursepulse.io/notifier/internal/pkg/errors"
)

// PostgresStore persists preferences in the notification_preference table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a shared connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const preferenceColumns = `id, resolver_key, context_id, context_path, context_level,
	component, area, item_id, ancestor_id, notification_class,
	title, subject, subject_format, body, body_format,
	recipients, schedule_offset, enabled, forced_channels, additional_criteria,
	created_at, updated_at`

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, p *Preference) error {
	recipients, forced, err := marshalLists(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification_preference (
			resolver_key, context_id, context_path, context_level,
			component, area, item_id, ancestor_id, notification_class,
			title, subject, subject_format, body, body_format,
			recipients, schedule_offset, enabled, forced_channels, additional_criteria,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`,
		p.ResolverKey, p.Context.ContextID, p.Context.Path, p.Context.Level,
		p.Context.Component, p.Context.Area, p.Context.ItemID, p.AncestorID, p.NotificationClass,
		p.Title, p.Subject, p.SubjectFormat, p.Body, p.BodyFormat,
		recipients, p.ScheduleOffset, p.Enabled, forced, criteriaParam(p.AdditionalCriteria),
		p.CreatedAt, p.UpdatedAt)
	if err := row.Scan(&p.ID); err != nil {
		return storeErr("create preference", err)
	}
	return nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, p *Preference) error {
	recipients, forced, err := marshalLists(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_preference SET
			ancestor_id = $2, title = $3, subject = $4, subject_format = $5,
			body = $6, body_format = $7, recipients = $8, schedule_offset = $9,
			enabled = $10, forced_channels = $11, additional_criteria = $12,
			updated_at = $13
		WHERE id = $1`,
		p.ID, p.AncestorID, p.Title, p.Subject, p.SubjectFormat,
		p.Body, p.BodyFormat, recipients, p.ScheduleOffset,
		p.Enabled, forced, criteriaParam(p.AdditionalCriteria), p.UpdatedAt)
	if err != nil {
		return storeErr("update preference", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found").
			WithParams(map[string]interface{}{"id": p.ID})
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_preference WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete preference", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(apperrors.CodePreferenceNotFound, "preference not found").
			WithParams(map[string]interface{}{"id": id})
	}
	return nil
}

// ByID implements Store.
func (s *PostgresStore) ByID(ctx context.Context, id int64) (*Preference, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preference WHERE id = $1`, id)
	return scanPreference(row)
}

// AtContext implements Store.
func (s *PostgresStore) AtContext(ctx context.Context, resolverKey string, ec extctx.Context) (*Preference, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preference
		WHERE resolver_key = $1 AND context_id = $2 AND component = $3 AND area = $4 AND item_id = $5`,
		resolverKey, ec.ContextID, ec.Component, ec.Area, ec.ItemID)
	return scanPreference(row)
}

// AtNaturalContext implements Store.
func (s *PostgresStore) AtNaturalContext(ctx context.Context, resolverKey string, contextID int64) (*Preference, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preference
		WHERE resolver_key = $1 AND context_id = $2 AND component = '' AND area = '' AND item_id = 0`,
		resolverKey, contextID)
	return scanPreference(row)
}

// ScheduleOffsets implements Store.
func (s *PostgresStore) ScheduleOffsets(ctx context.Context, resolverKey string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT schedule_offset FROM notification_preference
		WHERE resolver_key = $1 AND schedule_offset IS NOT NULL
		  AND (enabled IS NULL OR enabled)`,
		resolverKey)
	if err != nil {
		return nil, storeErr("load schedule offsets", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var offset int64
		if err := rows.Scan(&offset); err != nil {
			return nil, storeErr("scan schedule offset", err)
		}
		out = append(out, offset)
	}
	return out, rows.Err()
}

// Descendants implements Store.
func (s *PostgresStore) Descendants(ctx context.Context, id int64) ([]Preference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preference WHERE ancestor_id = $1`, id)
	if err != nil {
		return nil, storeErr("load descendants", err)
	}
	defer rows.Close()
	var out []Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListAtContext returns every preference stored at one extended context,
// across resolvers. Backs the admin listing endpoint.
func (s *PostgresStore) ListAtContext(ctx context.Context, ec extctx.Context) ([]Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preference
		WHERE context_id = $1 AND component = $2 AND area = $3 AND item_id = $4
		ORDER BY resolver_key`,
		ec.ContextID, ec.Component, ec.Area, ec.ItemID)
	if err != nil {
		return nil, storeErr("list preferences", err)
	}
	defer rows.Close()
	var out []Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPreference(row pgx.Row) (*Preference, error) {
	var p Preference
	var recipients, forced, criteria []byte
	err := row.Scan(
		&p.ID, &p.ResolverKey, &p.Context.ContextID, &p.Context.Path, &p.Context.Level,
		&p.Context.Component, &p.Context.Area, &p.Context.ItemID, &p.AncestorID, &p.NotificationClass,
		&p.Title, &p.Subject, &p.SubjectFormat, &p.Body, &p.BodyFormat,
		&recipients, &p.ScheduleOffset, &p.Enabled, &forced, &criteria,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("scan preference", err)
	}
	if recipients != nil {
		if err := json.Unmarshal(recipients, &p.Recipients); err != nil {
			return nil, storeErr("decode recipients", err)
		}
	}
	if forced != nil {
		if err := json.Unmarshal(forced, &p.ForcedChannels); err != nil {
			return nil, storeErr("decode forced channels", err)
		}
	}
	if criteria != nil {
		p.AdditionalCriteria = json.RawMessage(criteria)
	}
	return &p, nil
}

func marshalLists(p *Preference) (recipients, forced []byte, err error) {
	if p.Recipients != nil {
		recipients, err = json.Marshal(p.Recipients)
		if err != nil {
			return nil, nil, storeErr("encode recipients", err)
		}
	}
	if p.ForcedChannels != nil {
		forced, err = json.Marshal(p.ForcedChannels)
		if err != nil {
			return nil, nil, storeErr("encode forced channels", err)
		}
	}
	return recipients, forced, nil
}

func criteriaParam(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func storeErr(op string, err error) error {
	return apperrors.Wrap(err, apperrors.CodeInternalError, op, http.StatusInternalServerError)
}
