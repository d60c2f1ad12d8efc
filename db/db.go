package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"pairchat/models"
)

// DB stores the snapshot in SQLite. Rows keep the order of the document
// through the seq column; the document ids are not keys.
type DB struct {
	conn *sql.DB
}

// New opens the database at path. A database created by this call is
// filled with seed when seed is non-nil.
func New(path string, seed *models.Snapshot) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	fresh := !db.tableExists("users")
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	if fresh && seed != nil {
		if err := db.Save(context.Background(), seed); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed database: %w", err)
		}
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id INTEGER NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			contact_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	// Auto-migration for new columns
	if err := db.migrate(); err != nil {
		return err
	}

	return nil
}

// migrate performs auto-migration for new columns
func (db *DB) migrate() error {
	if !db.columnExists("messages", "attachment") {
		if _, err := db.conn.Exec("ALTER TABLE messages ADD COLUMN attachment TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) tableExists(table string) bool {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// columnExists checks if a column exists in a table
func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func (db *DB) Load(ctx context.Context) (*models.Snapshot, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &models.Snapshot{}
	if snap.Users, err = loadUsers(ctx, tx); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if snap.Contacts, err = loadContacts(ctx, tx); err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	if snap.Messages, err = loadMessages(ctx, tx); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	snap.Normalize()
	return snap, nil
}

func loadUsers(ctx context.Context, tx *sql.Tx) ([]models.User, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, name, email, password FROM users ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Password); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func loadContacts(ctx context.Context, tx *sql.Tx) ([]models.Contact, error) {
	rows, err := tx.QueryContext(ctx, "SELECT user_id, contact_id FROM contacts ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.UserID, &c.ContactID); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func loadMessages(ctx context.Context, tx *sql.Tx) ([]models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, timestamp, attachment
		FROM messages
		ORDER BY seq
	`
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.Attachment); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Save replaces every row in one transaction.
func (db *DB) Save(ctx context.Context, snap *models.Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"users", "contacts", "messages"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, u := range snap.Users {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO users (id, name, email, password) VALUES (?, ?, ?, ?)",
			u.ID, u.Name, u.Email, u.Password,
		)
		if err != nil {
			return fmt.Errorf("insert user %d: %w", u.ID, err)
		}
	}
	for _, c := range snap.Contacts {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO contacts (user_id, contact_id) VALUES (?, ?)",
			c.UserID, c.ContactID,
		)
		if err != nil {
			return fmt.Errorf("insert contact %d->%d: %w", c.UserID, c.ContactID, err)
		}
	}
	for _, m := range snap.Messages {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, sender_id, receiver_id, content, timestamp, attachment) VALUES (?, ?, ?, ?, ?, ?)",
			m.ID, m.SenderID, m.ReceiverID, m.Content, m.Timestamp, m.Attachment,
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
	}

	return tx.Commit()
}
