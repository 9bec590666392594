package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"rag-portal/internal/models"
)

// AudioExtensions are the file suffixes LatestAudio accepts.
var AudioExtensions = []string{".mp3", ".m4a", ".wav"}

// ChatLogRepository appends and replays conversation turns. Reads return rows
// in insertion order.
type ChatLogRepository struct {
	db bun.IDB
}

func NewChatLogRepository(db bun.IDB) *ChatLogRepository {
	return &ChatLogRepository{db: db}
}

func (r *ChatLogRepository) Insert(ctx context.Context, log *ChatLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	if _, err := r.db.NewInsert().Model(log).Exec(ctx); err != nil {
		return fmt.Errorf("insert chat log: %w", storeErr(err))
	}
	return nil
}

// BulkInsert stores logs in slice order within one transaction.
func (r *ChatLogRepository) BulkInsert(ctx context.Context, logs []*ChatLog) error {
	if len(logs) == 0 {
		return nil
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, l := range logs {
			if l.CreatedAt.IsZero() {
				l.CreatedAt = time.Now()
			}
			if _, err := tx.NewInsert().Model(l).Exec(ctx); err != nil {
				return fmt.Errorf("insert chat log: %w", storeErr(err))
			}
		}
		return nil
	})
	return storeErr(err)
}

func (r *ChatLogRepository) FindByID(ctx context.Context, id int64) (*ChatLog, error) {
	log := new(ChatLog)
	if err := r.db.NewSelect().Model(log).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("find chat log %d: %w", id, storeErr(err))
	}
	return log, nil
}

// FindByUser lists every row of the user grouped by thread.
func (r *ChatLogRepository) FindByUser(ctx context.Context, userID int64) ([]ChatLog, error) {
	var logs []ChatLog
	err := r.db.NewSelect().
		Model(&logs).
		Where("user_id = ?", userID).
		Order("thread ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find chat logs of user %d: %w", userID, storeErr(err))
	}
	return logs, nil
}

// FindThread lists one conversation in insertion order, invisible rows
// included.
func (r *ChatLogRepository) FindThread(ctx context.Context, userID int64, thread string) ([]ChatLog, error) {
	var logs []ChatLog
	err := r.db.NewSelect().
		Model(&logs).
		Where("user_id = ?", userID).
		Where("thread = ?", thread).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find thread %s of user %d: %w", thread, userID, storeErr(err))
	}
	return logs, nil
}

// LatestAudio returns the newest visible user row of the thread carrying an
// audio file.
func (r *ChatLogRepository) LatestAudio(ctx context.Context, userID int64, thread string) (*ChatLog, error) {
	log := new(ChatLog)
	err := r.db.NewSelect().
		Model(log).
		Where("user_id = ?", userID).
		Where("thread = ?", thread).
		Where("role = ?", models.RoleUser).
		Where("invisible = ?", false).
		Where("file_path IS NOT NULL").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, ext := range AudioExtensions {
				q = q.WhereOr("LOWER(file_path) LIKE ?", "%"+ext)
			}
			return q
		}).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest audio of user %d: %w", userID, storeErr(err))
	}
	return log, nil
}
