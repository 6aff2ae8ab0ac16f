package models

import "time"

type Post struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	ImageURL  string    `db:"image_url"`
	CreatorID string    `db:"creator_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Creator is the public projection of a post author.
type Creator struct {
	ID   string
	Name string
}

// PostWithCreator pairs a post with its resolved author.
type PostWithCreator struct {
	Post
	Creator Creator
}
