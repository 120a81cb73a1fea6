package db

import (
	"context"
)

type UserRepo struct {
	q dbtx
}

func (r *UserRepo) Create(ctx context.Context, u *User) error {
	result, err := r.q.ExecContext(ctx, insertUser, u.Username, u.IsAdmin)
	if err != nil {
		return wrapErr("create user", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create user", err)
	}
	u.ID = id
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := r.q.QueryRowContext(ctx, getUserByID, id).Scan(
		&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	return u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := r.q.QueryRowContext(ctx, getUserByUsername, username).Scan(
		&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, wrapErr("get user by username", err)
	}
	return u, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*User, error) {
	rows, err := r.q.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, wrapErr("scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Delete removes a user. Owned files and jobs cascade at the schema
// level.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, deleteUser, id)
	if err != nil {
		return wrapErr("delete user", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete user", err)
	}
	if affected == 0 {
		return wrapErr("delete user", ErrNotFound)
	}
	return nil
}
