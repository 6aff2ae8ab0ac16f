// Package models defines server-side data models persisted in the database.
package models

import "time"

type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Name         string    `db:"name"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
}
