package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/initiatives/pkg/models"
)

// Errors shared by the store implementations and their consumers.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

type ParticipationRepo interface {
	AddParticipation(ctx context.Context, p *models.Participation) (int64, error)
	ListParticipations(ctx context.Context, userID int64) ([]models.Participation, error)
}
