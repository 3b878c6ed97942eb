package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavelink-im/chat-platform/internal/model"
)

// Postgres is the production Store over a pgx connection pool. The
// multi-row units (cascade delete, message-sent pointer/flag update) run
// in a single transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) UpsertUserByEmail(ctx context.Context, user model.User) (*model.User, error) {
	query := `
		INSERT INTO users (id, username, email, name, image, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			image = COALESCE(NULLIF(EXCLUDED.image, ''), users.image),
			email_verified = EXCLUDED.email_verified,
			updated_at = now()
		RETURNING id, username, email, name, image, email_verified, created_at, updated_at
	`

	id := user.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	var out model.User
	err := p.pool.QueryRow(ctx, query,
		id, user.Username, user.Email, user.Name, user.Image, user.EmailVerified,
	).Scan(
		&out.ID, &out.Username, &out.Email, &out.Name, &out.Image,
		&out.EmailVerified, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Postgres) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return p.findUser(ctx, `WHERE id = $1`, id)
}

func (p *Postgres) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.findUser(ctx, `WHERE email = $1`, email)
}

func (p *Postgres) findUser(ctx context.Context, where string, arg any) (*model.User, error) {
	query := `
		SELECT id, username, email, name, image, email_verified, created_at, updated_at
		FROM users ` + where

	var out model.User
	err := p.pool.QueryRow(ctx, query, arg).Scan(
		&out.ID, &out.Username, &out.Email, &out.Name, &out.Image,
		&out.EmailVerified, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Postgres) SetUsername(ctx context.Context, userID, username string) (*model.User, error) {
	query := `
		UPDATE users SET username = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, username, email, name, image, email_verified, created_at, updated_at
	`

	var out model.User
	err := p.pool.QueryRow(ctx, query, userID, username).Scan(
		&out.ID, &out.Username, &out.Email, &out.Name, &out.Image,
		&out.EmailVerified, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Postgres) SearchUsers(ctx context.Context, text, excludeUsername string) ([]model.User, error) {
	query := `
		SELECT id, username, email, name, image, email_verified, created_at, updated_at
		FROM users
		WHERE username ILIKE '%' || $1 || '%' AND username <> $2
		ORDER BY username
	`

	rows, err := p.pool.Query(ctx, query, text, excludeUsername)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.Name, &u.Image,
			&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) FindConversationsByParticipant(ctx context.Context, userID string) ([]model.ConversationView, error) {
	query := `
		SELECT c.id, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	views := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		view, err := p.populate(ctx, c)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (p *Postgres) FindConversationByID(ctx context.Context, id string) (*model.ConversationView, error) {
	query := `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	var c model.Conversation
	err := p.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.populate(ctx, c)
}

func (p *Postgres) CreateConversation(ctx context.Context, participants []model.Participant) (*model.ConversationView, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	convID := uuid.Must(uuid.NewV7()).String()

	var c model.Conversation
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id) VALUES ($1)
		RETURNING id, latest_message_id, created_at, updated_at
	`, convID).Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, part := range participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO participants (id, conversation_id, user_id, has_seen_latest_message)
			VALUES ($1, $2, $3, $4)
		`, uuid.Must(uuid.NewV7()).String(), convID, part.UserID, part.HasSeenLatestMessage)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p.populate(ctx, c)
}

func (p *Postgres) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error {
	var tag string
	var args []any
	switch {
	case patch.DetachLatestMessage:
		tag = `UPDATE conversations SET latest_message_id = NULL, updated_at = now() WHERE id = $1`
		args = []any{id}
	case patch.LatestMessageID != nil:
		tag = `UPDATE conversations SET latest_message_id = $2, updated_at = now() WHERE id = $1`
		args = []any{id, *patch.LatestMessageID}
	default:
		tag = `UPDATE conversations SET updated_at = now() WHERE id = $1`
		args = []any{id}
	}

	ct, err := p.pool.Exec(ctx, tag, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteConversationCascade(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) FindParticipantsByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	if _, err := p.conversationExists(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, user_id, has_seen_latest_message
		FROM participants
		WHERE conversation_id = $1
		ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []model.Participant
	for rows.Next() {
		var part model.Participant
		if err := rows.Scan(&part.ID, &part.ConversationID, &part.UserID, &part.HasSeenLatestMessage); err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, rows.Err()
}

func (p *Postgres) FindParticipantByUserAndConversation(ctx context.Context, userID, conversationID string) (*model.Participant, error) {
	var part model.Participant
	err := p.pool.QueryRow(ctx, `
		SELECT id, conversation_id, user_id, has_seen_latest_message
		FROM participants
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID).Scan(&part.ID, &part.ConversationID, &part.UserID, &part.HasSeenLatestMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &part, nil
}

func (p *Postgres) DeleteParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	if _, err := p.conversationExists(ctx, conversationID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		DELETE FROM participants
		WHERE conversation_id = $1 AND user_id = ANY($2)
	`, conversationID, userIDs)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID)
	return err
}

func (p *Postgres) MarkParticipantSeen(ctx context.Context, userID, conversationID string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE participants SET has_seen_latest_message = TRUE
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateMessage(ctx context.Context, msg model.Message) (*model.MessageView, error) {
	if _, err := p.conversationExists(ctx, msg.ConversationID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, body, type, file_uri)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, conversation_id, sender_id, body, type, COALESCE(file_uri, ''), created_at
	`

	var out model.Message
	err := p.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, string(msg.Type), msg.FileURI,
	).Scan(&out.ID, &out.ConversationID, &out.SenderID, &out.Body, &out.Type, &out.FileURI, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateMessage
		}
		return nil, err
	}
	return p.populateMessage(ctx, out)
}

func (p *Postgres) FindMessagesByConversation(ctx context.Context, conversationID string) ([]model.MessageView, error) {
	if _, err := p.conversationExists(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.type, COALESCE(m.file_uri, ''), m.created_at,
		       u.id, u.username, u.image
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []model.MessageView
	for rows.Next() {
		var v model.MessageView
		if err := rows.Scan(
			&v.ID, &v.ConversationID, &v.SenderID, &v.Body, &v.Type, &v.FileURI, &v.CreatedAt,
			&v.Sender.ID, &v.Sender.Username, &v.Sender.Image,
		); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (p *Postgres) ApplyMessageSent(ctx context.Context, conversationID, messageID, senderID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var participantID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM participants WHERE user_id = $1 AND conversation_id = $2
	`, senderID, conversationID).Scan(&participantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrParticipantMissing
	}
	if err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE conversations SET latest_message_id = $2, updated_at = now() WHERE id = $1
	`, conversationID, messageID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE participants SET has_seen_latest_message = (user_id = $2)
		WHERE conversation_id = $1
	`, conversationID, senderID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) conversationExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return true, nil
}

func (p *Postgres) populate(ctx context.Context, c model.Conversation) (*model.ConversationView, error) {
	view := model.ConversationView{Conversation: c}

	rows, err := p.pool.Query(ctx, `
		SELECT p.id, p.conversation_id, p.user_id, p.has_seen_latest_message,
		       u.id, u.username, u.image
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.id
	`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pv model.ParticipantView
		if err := rows.Scan(
			&pv.ID, &pv.ConversationID, &pv.UserID, &pv.HasSeenLatestMessage,
			&pv.User.ID, &pv.User.Username, &pv.User.Image,
		); err != nil {
			return nil, err
		}
		view.Participants = append(view.Participants, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if c.LatestMessageID != nil {
		var v model.MessageView
		err := p.pool.QueryRow(ctx, `
			SELECT m.id, m.conversation_id, m.sender_id, m.body, m.type, COALESCE(m.file_uri, ''), m.created_at,
			       u.id, u.username, u.image
			FROM messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.id = $1
		`, *c.LatestMessageID).Scan(
			&v.ID, &v.ConversationID, &v.SenderID, &v.Body, &v.Type, &v.FileURI, &v.CreatedAt,
			&v.Sender.ID, &v.Sender.Username, &v.Sender.Image,
		)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			view.LatestMessage = &v
		}
	}
	return &view, nil
}

func (p *Postgres) populateMessage(ctx context.Context, msg model.Message) (*model.MessageView, error) {
	view := model.MessageView{Message: msg}
	user, err := p.findUser(ctx, `WHERE id = $1`, msg.SenderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if user != nil {
		view.Sender = user.Profile()
	}
	return &view, nil
}
