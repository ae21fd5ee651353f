package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/clinichat/internal/domain"
)

// driverName is go-sqlite3 with a Unicode-aware fold_case() SQL function.
// The built-in LIKE only folds ASCII, so "CÓMO" would miss "¿Cómo?".
const driverName = "sqlite3_clinichat"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold_case", strings.ToLower, true)
		},
	})
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doctor_language TEXT NOT NULL,
			patient_language TEXT NOT NULL,
			title TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_role TEXT NOT NULL CHECK(sender_role IN ('doctor','patient')),
			original_content TEXT,
			translated_content TEXT,
			audio_path TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			summary_text TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("messages", "translation_attempts", "ALTER TABLE messages ADD COLUMN translation_attempts INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_untranslated ON messages(translated_content, translation_attempts)`); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a conversation and fills in its id.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conversation *domain.Conversation) error {
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now()
	}
	conversation.CreatedAt = conversation.CreatedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (doctor_language, patient_language, title, created_at) VALUES (?, ?, ?, ?)`,
		conversation.DoctorLanguage, conversation.PatientLanguage, nullStringPtr(conversation.Title), conversation.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	conversation.ID = id
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, doctor_language, patient_language, title, created_at FROM conversations WHERE id = ?`,
		conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns all conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doctor_language, patient_language, title, created_at FROM conversations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// CreateMessage inserts a message and fills in its id.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.CreatedAt = message.CreatedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_role, original_content, translated_content, audio_path, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.ConversationID, message.SenderRole, nullStringPtr(message.OriginalContent),
		nullStringPtr(message.TranslatedContent), nullStringPtr(message.AudioPath), message.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	message.ID = id
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID int64) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the messages of a conversation in display order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// SearchMessages returns messages whose original or translated content contains
// query, newest first. The query is matched literally and case-insensitively,
// including non-ASCII letters.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, conversationID *int64) ([]domain.Message, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := `SELECT ` + messageColumns + ` FROM messages
		WHERE (fold_case(COALESCE(original_content, '')) LIKE ? ESCAPE '\'
			OR fold_case(COALESCE(translated_content, '')) LIKE ? ESCAPE '\')`
	args := []interface{}{pattern, pattern}

	if conversationID != nil {
		q += ` AND conversation_id = ?`
		args = append(args, *conversationID)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// AttachAudio sets the audio path of a message that has none yet.
// It reports false when the message already carries audio or does not exist.
func (s *SQLiteStore) AttachAudio(ctx context.Context, messageID int64, audioPath string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET audio_path = ? WHERE id = ? AND audio_path IS NULL`,
		audioPath, messageID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListPendingTranslations returns text messages without a translation, oldest first.
func (s *SQLiteStore) ListPendingTranslations(ctx context.Context, maxAttempts, limit int) ([]PendingTranslation, error) {
	q := `SELECT m.id, m.conversation_id, m.sender_role, m.original_content, m.translated_content, m.audio_path, m.created_at,
			c.doctor_language, c.patient_language, m.translation_attempts
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.translated_content IS NULL
			AND m.original_content IS NOT NULL
			AND m.original_content != ''
			AND m.original_content != ?
			AND m.translation_attempts < ?
		ORDER BY m.created_at ASC, m.id ASC`
	args := []interface{}{domain.AudioPlaceholder, maxAttempts}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingTranslation
	for rows.Next() {
		var p PendingTranslation
		var original, translated, audio sql.NullString
		if err := rows.Scan(&p.Message.ID, &p.Message.ConversationID, &p.Message.SenderRole,
			&original, &translated, &audio, &p.Message.CreatedAt,
			&p.DoctorLanguage, &p.PatientLanguage, &p.Attempts); err != nil {
			return nil, err
		}
		p.Message.OriginalContent = stringPtr(original)
		p.Message.TranslatedContent = stringPtr(translated)
		p.Message.AudioPath = stringPtr(audio)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// SetTranslation fills the translation of a message exactly once.
func (s *SQLiteStore) SetTranslation(ctx context.Context, messageID int64, translated string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET translated_content = ? WHERE id = ? AND translated_content IS NULL`,
		translated, messageID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordTranslationFailure bumps the attempt counter of a message.
func (s *SQLiteStore) RecordTranslationFailure(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET translation_attempts = translation_attempts + 1 WHERE id = ?`,
		messageID)
	return err
}

// CreateSummary inserts a summary and fills in its id.
func (s *SQLiteStore) CreateSummary(ctx context.Context, summary *domain.Summary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	summary.CreatedAt = summary.CreatedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (conversation_id, summary_text, created_at) VALUES (?, ?, ?)`,
		summary.ConversationID, summary.SummaryText, summary.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	summary.ID = id
	return nil
}

const messageColumns = `id, conversation_id, sender_role, original_content, translated_content, audio_path, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var title sql.NullString
	if err := row.Scan(&conv.ID, &conv.DoctorLanguage, &conv.PatientLanguage, &title, &conv.CreatedAt); err != nil {
		return nil, err
	}
	conv.Title = stringPtr(title)
	return &conv, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var original, translated, audio sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderRole, &original, &translated, &audio, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.OriginalContent = stringPtr(original)
	msg.TranslatedContent = stringPtr(translated)
	msg.AudioPath = stringPtr(audio)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// escapeLike escapes LIKE wildcards so the query matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
