package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

// AddParticipation stores the record and credits its points to the owning
// user in the same transaction.
func (r *SQLiteRepo) AddParticipation(ctx context.Context, p *models.Participation) (int64, error) {
	if p == nil {
		return 0, fmt.Errorf("participation is nil")
	}
	if p.InitiativeID < 1 {
		return 0, fmt.Errorf("initiative id must be >= 1, got %d", p.InitiativeID)
	}
	if p.PointsEarned < 0 {
		return 0, fmt.Errorf("points earned must not be negative")
	}

	var id int64
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET points = points + ?, updated = ? WHERE id = ?`, p.PointsEarned, now(), p.UserID)
		if err != nil {
			return fmt.Errorf("credit points: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}

		res, err = tx.ExecContext(ctx, `INSERT INTO participations (user_id, initiative_id, date_participated, points_earned, contribution, created) VALUES (?, ?, ?, ?, ?, ?)`,
			p.UserID, p.InitiativeID, p.DateParticipated, p.PointsEarned, p.Contribution, now())
		if err != nil {
			return fmt.Errorf("insert participation: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ListParticipations returns a user's records in insertion order.
func (r *SQLiteRepo) ListParticipations(ctx context.Context, userID int64) ([]models.Participation, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, user_id, initiative_id, date_participated, points_earned, contribution FROM participations WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Participation{}
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

func scanParticipation(rows *sql.Rows) (models.Participation, error) {
	var p models.Participation
	err := rows.Scan(&p.ID, &p.UserID, &p.InitiativeID, &p.DateParticipated, &p.PointsEarned, &p.Contribution)
	return p, err
}
