package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &messageRepoPG{pool: pool} }

func (r *messageRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const msgCols = `id, sender_id, receiver_id, appointment_id, type, content, file_url, file_name,
	is_read, read_at, metadata, created_at, updated_at`

func scanInto(row pgx.Row, m *Message, extra ...interface{}) error {
	dest := append([]interface{}{&m.ID, &m.SenderID, &m.ReceiverID, &m.AppointmentID, &m.Type, &m.Content,
		&m.FileURL, &m.FileName, &m.IsRead, &m.ReadAt, &m.Metadata, &m.CreatedAt, &m.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *messageRepoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := scanInto(row, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, appointment_id, type, content,
			file_url, file_name, is_read, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		m.ID, m.SenderID, m.ReceiverID, m.AppointmentID, m.Type, m.Content,
		m.FileURL, m.FileName, m.IsRead, m.Metadata).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+msgCols+` FROM messages WHERE id = $1`, id))
}

func (r *messageRepoPG) Update(ctx context.Context, m *Message) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE messages SET content=$2, file_url=$3, file_name=$4, is_read=$5, read_at=$6,
			metadata=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Content, m.FileURL, m.FileName, m.IsRead, m.ReadAt, m.Metadata).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *messageRepoPG) ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return r.list(ctx, ` WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)`,
		[]interface{}{a, b}, limit, offset)
}

func (r *messageRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return r.list(ctx, ` WHERE appointment_id = $1`, []interface{}{appointmentID}, limit, offset)
}

// list returns matching messages newest first.
func (r *messageRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + msgCols + ` FROM messages` + where + ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) Conversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (partner_id) *
			FROM (
				SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id, m.*
				FROM messages m
				WHERE sender_id = $1 OR receiver_id = $1
			) threads
			ORDER BY partner_id, created_at DESC
		)
		SELECT `+msgCols+`, partner_id,
			(SELECT COUNT(*) FROM messages u
			 WHERE u.sender_id = latest.partner_id AND u.receiver_id = $1 AND NOT u.is_read) AS unread
		FROM latest
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		var m Message
		c := &Conversation{LastMessage: &m}
		if err := scanInto(rows, &m, &c.PartnerID, &c.UnreadCount); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *messageRepoPG) MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = $3, updated_at = NOW()
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`,
		receiverID, senderID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *messageRepoPG) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`, userID).Scan(&n)
	return n, err
}
