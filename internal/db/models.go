package db

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Username      string    `bun:"username,notnull,unique"`
	LineUserID    *string   `bun:"line_user_id,unique"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ChatLog is one turn of a conversation. Rows are append only.
type ChatLog struct {
	bun.BaseModel `bun:"table:chat_logs,alias:cl"`
	ID            int64     `bun:"id,pk,autoincrement"`
	UserID        int64     `bun:"user_id,notnull"`
	Thread        string    `bun:"thread,notnull"`
	Role          string    `bun:"role,notnull"`
	Message       string    `bun:"message,notnull"`
	FilePath      *string   `bun:"file_path"`
	Invisible     bool      `bun:"invisible,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// File returns the attached file path or "".
func (c ChatLog) File() string {
	if c.FilePath == nil {
		return ""
	}
	return *c.FilePath
}

// StrPtr is a helper for optional columns.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
