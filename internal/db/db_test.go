package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"rag-portal/internal/config"
	"rag-portal/internal/models"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitDB(context.Background(), db, 1536))
	return db
}

func TestConnectDB_UnsupportedDriver(t *testing.T) {
	_, err := ConnectDB(&config.DatabaseConfig{Driver: "oracle"})
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestConnectDB_PostgresDoesNotDial(t *testing.T) {
	sqldb, err := ConnectDB(&config.DatabaseConfig{Driver: DriverPG, DSN: "postgres://u@localhost:5432/db?sslmode=disable", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, sqldb.Close())

	db := NewDB(sqldb, DriverPG, true)
	require.True(t, isPostgres(db))
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t))

	u1, err := users.GetOrCreate(ctx, "admin")
	require.NoError(t, err)
	require.NotZero(t, u1.ID)

	u2, err := users.GetOrCreate(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, u1.ID, u2.ID)

	l1, err := users.GetOrCreateByLineID(ctx, "U123")
	require.NoError(t, err)
	require.NotEqual(t, u1.ID, l1.ID)
	require.Equal(t, "U123", *l1.LineUserID)

	l2, err := users.GetOrCreateByLineID(ctx, "U123")
	require.NoError(t, err)
	require.Equal(t, l1.ID, l2.ID)

	got, err := users.Get(ctx, l1.ID)
	require.NoError(t, err)
	require.Equal(t, "U123", got.Username)

	_, err = users.Get(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)

	found, err := users.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, u1.ID, found.ID)
	found, err = users.FindByLineID(ctx, "U123")
	require.NoError(t, err)
	require.Equal(t, l1.ID, found.ID)
	_, err = users.FindByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChatLogs_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user, err := NewUserRepository(db).GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	logs := NewChatLogRepository(db)

	// identical timestamps fall back to id order
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	batch := []*ChatLog{
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleSystem, Message: "prompt", Invisible: true, CreatedAt: ts},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "hello", CreatedAt: ts},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleAssistant, Message: "hi", CreatedAt: ts},
	}
	require.NoError(t, logs.BulkInsert(ctx, batch))
	require.NoError(t, logs.Insert(ctx, &ChatLog{UserID: user.ID, Thread: models.ThreadQA, Role: models.RoleUser, Message: "q"}))
	require.NoError(t, logs.Insert(ctx, &ChatLog{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "again"}))

	thread, err := logs.FindThread(ctx, user.ID, models.ThreadLine)
	require.NoError(t, err)
	var msgs []string
	for _, l := range thread {
		msgs = append(msgs, l.Message)
	}
	require.Equal(t, []string{"prompt", "hello", "hi", "again"}, msgs)
	require.True(t, thread[0].Invisible)

	all, err := logs.FindByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, models.ThreadLine, all[0].Thread)
	require.Equal(t, models.ThreadQA, all[4].Thread)

	byID, err := logs.FindByID(ctx, batch[1].ID)
	require.NoError(t, err)
	require.Equal(t, "hello", byID.Message)
	require.Empty(t, byID.File())

	_, err = logs.FindByID(ctx, 12345)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChatLogs_OrderIgnoresTimestamps(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user, err := NewUserRepository(db).GetOrCreate(ctx, "carol")
	require.NoError(t, err)
	logs := NewChatLogRepository(db)

	// clock skew: later rows carry earlier timestamps
	now := time.Now()
	require.NoError(t, logs.BulkInsert(ctx, []*ChatLog{
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "first", CreatedAt: now},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleAssistant, Message: "second", CreatedAt: now.Add(-time.Hour)},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "third", FilePath: StrPtr("audio/a.m4a"), CreatedAt: now.Add(-2 * time.Hour)},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "fourth", FilePath: StrPtr("audio/b.m4a"), CreatedAt: now.Add(-3 * time.Hour)},
	}))

	thread, err := logs.FindThread(ctx, user.ID, models.ThreadLine)
	require.NoError(t, err)
	var msgs []string
	for _, l := range thread {
		msgs = append(msgs, l.Message)
	}
	require.Equal(t, []string{"first", "second", "third", "fourth"}, msgs)

	all, err := logs.FindByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "first", all[0].Message)
	require.Equal(t, "fourth", all[3].Message)

	latest, err := logs.LatestAudio(ctx, user.ID, models.ThreadLine)
	require.NoError(t, err)
	require.Equal(t, "fourth", latest.Message)
}

func TestChatLogs_LatestAudio(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user, err := NewUserRepository(db).GetOrCreate(ctx, "bob")
	require.NoError(t, err)
	logs := NewChatLogRepository(db)

	_, err = logs.LatestAudio(ctx, user.ID, models.ThreadLine)
	require.ErrorIs(t, err, ErrNotFound)

	base := time.Now().Add(-time.Hour)
	rows := []*ChatLog{
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "old", FilePath: StrPtr("audio/old.m4a"), CreatedAt: base},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "new", FilePath: StrPtr("audio/new.MP3"), CreatedAt: base.Add(time.Minute)},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleAssistant, Message: "tts", FilePath: StrPtr("audio/reply.mp3"), CreatedAt: base.Add(2 * time.Minute)},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "image", FilePath: StrPtr("images/a.jpg"), CreatedAt: base.Add(3 * time.Minute)},
		{UserID: user.ID, Thread: models.ThreadLine, Role: models.RoleUser, Message: "hidden", FilePath: StrPtr("audio/hidden.wav"), Invisible: true, CreatedAt: base.Add(4 * time.Minute)},
	}
	require.NoError(t, logs.BulkInsert(ctx, rows))

	got, err := logs.LatestAudio(ctx, user.ID, models.ThreadLine)
	require.NoError(t, err)
	require.Equal(t, "new", got.Message)
	require.Equal(t, "audio/new.MP3", got.File())

	_, err = logs.LatestAudio(ctx, user.ID, models.ThreadChat)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestToDocuments(t *testing.T) {
	docs := toDocuments("fp", []models.ChunkEmbedding{
		{Chunk: models.Chunk{Content: "c", Source: "a.pdf", PageNumber: 4, ChunkID: 2, Type: "pdf"}, Embedding: []float32{1, 2}},
	})
	require.Len(t, docs, 1)
	require.Equal(t, "fp", docs[0].Fingerprint)
	require.Equal(t, []float32{1, 2}, docs[0].Embedding.Slice())
	require.Equal(t, "a.pdf p.4", docs[0].Chunk().Label())
}
