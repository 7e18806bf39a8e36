package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository реализует все репозитории ядра поверх одной базы SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает базу и создает таблицы при необходимости.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Обработчики конвертов работают параллельно, WAL убирает блокировки
	// читателей на время записи.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return repo, nil
}

// Close закрывает соединение с базой данных
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initTables создает необходимые таблицы
func (r *SQLiteRepository) initTables() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS identity (
			device_id   TEXT PRIMARY KEY,
			public_key  TEXT NOT NULL,
			private_key TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			uuid       TEXT PRIMARY KEY,
			public_key TEXT NOT NULL DEFAULT '',
			nickname   TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			from_uuid       TEXT NOT NULL,
			content         TEXT NOT NULL,
			content_type    TEXT NOT NULL DEFAULT 'text',
			file_path       TEXT NOT NULL DEFAULT '',
			is_sent         BOOLEAN NOT NULL DEFAULT FALSE,
			is_delivered    BOOLEAN NOT NULL DEFAULT FALSE,
			is_read         BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp       DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp);`,
		`CREATE TABLE IF NOT EXISTS statuses (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			from_uuid  TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Identity ---

func (r *SQLiteRepository) LoadIdentity() (*Identity, error) {
	id := &Identity{}
	err := r.db.QueryRow(
		"SELECT device_id, public_key, private_key FROM identity LIMIT 1",
	).Scan(&id.DeviceID, &id.PublicKey, &id.PrivateKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) SaveIdentity(id *Identity) error {
	_, err := r.db.Exec(
		"INSERT INTO identity (device_id, public_key, private_key) VALUES (?, ?, ?)",
		id.DeviceID, id.PublicKey, id.PrivateKey,
	)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// --- Contacts ---

func (r *SQLiteRepository) InsertContact(c *Contact) error {
	// Пустой ключ при повторной вставке не затирает уже полученный:
	// иначе повторное добавление контакта сбрасывало бы сверенный ключ.
	_, err := r.db.Exec(
		`INSERT INTO contacts (uuid, public_key, nickname) VALUES (?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET public_key = excluded.public_key
		 WHERE excluded.public_key != ''`,
		c.UUID, c.PublicKey, c.Nickname,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetContact(uuid string) (*Contact, error) {
	c := &Contact{}
	err := r.db.QueryRow(
		"SELECT uuid, public_key, nickname, created_at FROM contacts WHERE uuid = ?", uuid,
	).Scan(&c.UUID, &c.PublicKey, &c.Nickname, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetAllContacts() ([]Contact, error) {
	rows, err := r.db.Query(
		"SELECT uuid, public_key, nickname, created_at FROM contacts ORDER BY nickname, uuid")
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.UUID, &c.PublicKey, &c.Nickname, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *SQLiteRepository) UpdateNickname(uuid, nickname string) error {
	_, err := r.db.Exec("UPDATE contacts SET nickname = ? WHERE uuid = ?", nickname, uuid)
	if err != nil {
		return fmt.Errorf("failed to update nickname: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdatePublicKey(uuid, publicKey string) error {
	_, err := r.db.Exec("UPDATE contacts SET public_key = ? WHERE uuid = ?", publicKey, uuid)
	if err != nil {
		return fmt.Errorf("failed to update public key: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteContact(uuid string) error {
	_, err := r.db.Exec("DELETE FROM contacts WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}

// --- Messages ---

func (r *SQLiteRepository) InsertMessage(m *Message) (int64, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	res, err := r.db.Exec(
		`INSERT INTO messages
			(conversation_id, from_uuid, content, content_type, file_path,
			 is_sent, is_delivered, is_read, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.FromUUID, m.Content, m.ContentType, m.FilePath,
		m.IsSent, m.IsDelivered, m.IsRead, m.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func scanMessage(scanner interface{ Scan(...interface{}) error }, m *Message) error {
	return scanner.Scan(&m.ID, &m.ConversationID, &m.FromUUID, &m.Content,
		&m.ContentType, &m.FilePath, &m.IsSent, &m.IsDelivered, &m.IsRead, &m.Timestamp)
}

const messageColumns = `id, conversation_id, from_uuid, content, content_type,
	file_path, is_sent, is_delivered, is_read, timestamp`

func (r *SQLiteRepository) GetMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? ORDER BY timestamp, id LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *SQLiteRepository) GetMessageByID(id int64) (*Message, error) {
	m := &Message{}
	err := scanMessage(r.db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id), m)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) DeleteMessage(id int64) error {
	_, err := r.db.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteConversation(conversationID string) error {
	_, err := r.db.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkDelivered(id int64) error {
	// Флаг двигается только вперед, повторная квитанция - no-op.
	_, err := r.db.Exec(
		"UPDATE messages SET is_delivered = TRUE WHERE id = ? AND is_delivered = FALSE", id)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkOutgoingRead(conversationID string) error {
	_, err := r.db.Exec(
		`UPDATE messages SET is_read = TRUE, is_delivered = TRUE
		 WHERE conversation_id = ? AND is_sent = TRUE AND is_read = FALSE`,
		conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark outgoing read: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkIncomingRead(conversationID string) error {
	_, err := r.db.Exec(
		`UPDATE messages SET is_read = TRUE
		 WHERE conversation_id = ? AND is_sent = FALSE AND is_read = FALSE`,
		conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark incoming read: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UnreadCount(conversationID string) (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = ? AND is_sent = FALSE AND is_read = FALSE`,
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) ConversationPreviews() (map[string]Message, error) {
	rows, err := r.db.Query(
		`SELECT ` + messageColumns + ` FROM messages
		 WHERE id IN (SELECT MAX(id) FROM messages GROUP BY conversation_id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to get previews: %w", err)
	}
	defer rows.Close()

	previews := make(map[string]Message)
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		previews[m.ConversationID] = m
	}
	return previews, rows.Err()
}

// --- Statuses ---

func (r *SQLiteRepository) InsertStatus(s *Status) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	res, err := r.db.Exec(
		"INSERT INTO statuses (from_uuid, content, created_at, expires_at) VALUES (?, ?, ?, ?)",
		s.FromUUID, s.Content, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteRepository) GetActiveStatuses() ([]Status, error) {
	rows, err := r.db.Query(
		`SELECT id, from_uuid, content, created_at, expires_at FROM statuses
		 WHERE expires_at > ? ORDER BY created_at DESC`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get statuses: %w", err)
	}
	defer rows.Close()

	var statuses []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(&s.ID, &s.FromUUID, &s.Content, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func (r *SQLiteRepository) DeleteExpiredStatuses() (int64, error) {
	res, err := r.db.Exec("DELETE FROM statuses WHERE expires_at <= ?", time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired statuses: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteRepository) DeleteStatusesFrom(uuid string) error {
	_, err := r.db.Exec("DELETE FROM statuses WHERE from_uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete statuses: %w", err)
	}
	return nil
}
