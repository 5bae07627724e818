package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

func (r *SQLiteRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if u == nil {
		return 0, fmt.Errorf("user is nil")
	}
	if u.Points < 0 {
		return 0, fmt.Errorf("points must not be negative")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO users (email, password_hash, points, updated) VALUES (?, ?, ?, ?)`, u.Email, u.PasswordHash, u.Points, now())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create user %q: %w", u.Email, repository.ErrConflict)
		}
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.logger.Debug("user created", slog.Int64("id", id))
	return id, nil
}

func (r *SQLiteRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, email, password_hash, points, updated FROM users WHERE id = ?`, id)
	return r.scanUser(ctx, row)
}

func (r *SQLiteRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	// sqlite's = on TEXT is case-sensitive, which is the matching rule for emails
	row := r.conn.QueryRow(ctx, `SELECT id, email, password_hash, points, updated FROM users WHERE email = ?`, email)
	return r.scanUser(ctx, row)
}

func (r *SQLiteRepo) scanUser(ctx context.Context, row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Points, &u.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	ps, err := r.ListParticipations(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load participations: %w", err)
	}
	u.ParticipatedInitiatives = ps

	return &u, nil
}

// ListUsers returns every user ordered by id, each with its participations.
func (r *SQLiteRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, email, password_hash, points, updated FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.User{}
	index := make(map[int64]int)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Points, &u.Updated); err != nil {
			return nil, err
		}
		u.ParticipatedInitiatives = []models.Participation{}
		index[u.ID] = len(out)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	prows, err := r.conn.QueryRows(ctx, `SELECT id, user_id, initiative_id, date_participated, points_earned, contribution FROM participations ORDER BY user_id, id`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		p, err := scanParticipation(prows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[p.UserID]; ok {
			out[i].ParticipatedInitiatives = append(out[i].ParticipatedInitiatives, p)
		}
	}

	return out, prows.Err()
}

func (r *SQLiteRepo) UpdateUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}

	res, err := r.conn.Exec(ctx, `UPDATE users SET email = ?, password_hash = ?, updated = ? WHERE id = ?`, u.Email, u.PasswordHash, now(), u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update user %d: %w", u.ID, repository.ErrConflict)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}

	return nil
}
