package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type UserRepository struct {
	db bun.IDB
}

func NewUserRepository(db bun.IDB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*User, error) {
	user := new(User)
	if err := r.db.NewSelect().Model(user).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, storeErr(err))
	}
	return user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findBy(ctx, "username", username)
}

func (r *UserRepository) FindByLineID(ctx context.Context, lineUserID string) (*User, error) {
	return r.findBy(ctx, "line_user_id", lineUserID)
}

func (r *UserRepository) findBy(ctx context.Context, column, value string) (*User, error) {
	user := new(User)
	if err := r.db.NewSelect().Model(user).Where("? = ?", bun.Ident(column), value).Scan(ctx); err != nil {
		return nil, fmt.Errorf("find user by %s %s: %w", column, value, storeErr(err))
	}
	return user, nil
}

// GetOrCreate returns the user with username, creating it on first use.
func (r *UserRepository) GetOrCreate(ctx context.Context, username string) (*User, error) {
	user, err := r.FindByUsername(ctx, username)
	if !errors.Is(err, ErrNotFound) {
		return user, err
	}
	return r.create(ctx, &User{Username: username})
}

// GetOrCreateByLineID maps a LINE user to a local user; the username is the
// LINE user id.
func (r *UserRepository) GetOrCreateByLineID(ctx context.Context, lineUserID string) (*User, error) {
	user, err := r.FindByLineID(ctx, lineUserID)
	if !errors.Is(err, ErrNotFound) {
		return user, err
	}
	return r.create(ctx, &User{Username: lineUserID, LineUserID: StrPtr(lineUserID)})
}

func (r *UserRepository) create(ctx context.Context, user *User) (*User, error) {
	user.CreatedAt = time.Now()
	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Username, storeErr(err))
	}
	return user, nil
}
