package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"polychat/config"
	"polychat/model"

	_ "modernc.org/sqlite"
)

// AttachmentStore keeps attachment payloads keyed by conversation and name.
// It implements tools.AttachmentSource for conversations that are not open.
type AttachmentStore struct {
	db *sql.DB
}

// AttachmentInfo describes a stored attachment without its payload.
type AttachmentInfo struct {
	Name      string
	MIMEType  string
	Size      int
	CreatedAt time.Time
}

func NewAttachmentStore(dataDir string) (*AttachmentStore, error) {
	return OpenAttachmentStore(config.AttachmentsDBPath(dataDir))
}

// OpenAttachmentStore opens the database at dbPath. ":memory:" works for
// tests.
func OpenAttachmentStore(dbPath string) (*AttachmentStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized by sqlite anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &AttachmentStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *AttachmentStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attachments (
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (conversation_id, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *AttachmentStore) Close() error {
	return s.db.Close()
}

// Put stores a, replacing any attachment with the same name.
func (s *AttachmentStore) Put(ctx context.Context, conversationID string, a model.Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (conversation_id, name, mime_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, name) DO UPDATE SET
			mime_type = excluded.mime_type,
			data = excluded.data,
			created_at = excluded.created_at
	`, conversationID, a.Name, a.MIMEType, a.Data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store attachment: %w", err)
	}
	return nil
}

// Attachment implements tools.AttachmentSource.
func (s *AttachmentStore) Attachment(ctx context.Context, conversationID, name string) (model.Attachment, error) {
	a := model.Attachment{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT mime_type, data FROM attachments WHERE conversation_id = ? AND name = ?`,
		conversationID, name,
	).Scan(&a.MIMEType, &a.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attachment{}, fmt.Errorf("%s in conversation %s: %w", name, conversationID, model.ErrNotFound)
	}
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to load attachment: %w", err)
	}
	return a, nil
}

// List describes the attachments of a conversation, oldest first.
func (s *AttachmentStore) List(ctx context.Context, conversationID string) ([]AttachmentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, mime_type, length(data), created_at
		FROM attachments WHERE conversation_id = ?
		ORDER BY created_at, name
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var out []AttachmentInfo
	for rows.Next() {
		var info AttachmentInfo
		if err := rows.Scan(&info.Name, &info.MIMEType, &info.Size, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteConversation removes every attachment of a conversation.
func (s *AttachmentStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE conversation_id = ?`, conversationID)
	return err
}
