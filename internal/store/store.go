// Package store persists users and messages in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a queried row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a unique constraint rejects an insert.
	ErrExists = errors.New("already exists")
)

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID       int64
	Username string
	Password string
}

// Message is one persisted direct message. File is the attachment
// reference, empty when the message carried no attachment.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Text      string
	File      string
	CreatedAt time.Time
}

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// New opens (creating if necessary) the database at path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			text TEXT NOT NULL,
			file TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user with an already-hashed password and
// returns its id. The username must be unique.
func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, passwordHash,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrExists
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByName looks up a user by username.
func (db *DB) GetUserByName(username string) (User, error) {
	var u User
	err := db.conn.QueryRow(
		"SELECT id, username, password FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all registered users ordered by username. Password
// hashes are not included.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.conn.Query("SELECT id, username FROM users ORDER BY username ASC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveMessage persists one message and returns its assigned id as a
// string. Satisfies the chat.MessageStore capability.
func (db *DB) SaveMessage(sender, recipient, text, file string) (string, error) {
	res, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, text, file, created_at) VALUES (?, ?, ?, ?, ?)",
		sender, recipient, text, file, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// History returns all messages between two users, oldest first.
func (db *DB) History(a, b string) ([]Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, recipient, text, file, created_at
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY created_at ASC, id ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Text, &m.File, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
