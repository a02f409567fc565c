package serverdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User owns records and API keys.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// CreateUser inserts a new user with the given email (lowercased).
func (db *ServerDB) CreateUser(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := db.now()
	if _, err := db.conn.Exec(`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, id, email, now); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{ID: id, Email: email, CreatedAt: now}, nil
}

// GetUserByEmail returns the user with the given email, or nil if not found.
func (db *ServerDB) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &User{}
	err := db.conn.QueryRow(`SELECT id, email, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// EnsureUser returns the user with email, creating it when missing.
func (db *ServerDB) EnsureUser(email string) (*User, error) {
	u, err := db.GetUserByEmail(email)
	if err != nil || u != nil {
		return u, err
	}
	return db.CreateUser(email)
}
