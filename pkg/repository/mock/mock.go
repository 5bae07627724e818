package mock

import (
	"context"
	"sync"

	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

// Test helpers and mocks
type Mocks struct {
	UserRepo *UserRepo
	PartRepo *ParticipationRepo
}

// NewMocks returns repos that share one user table, so participations credit
// the users the UserRepo returns.
func NewMocks() *Mocks {
	users := &UserRepo{byID: make(map[int64]*models.User)}
	return &Mocks{
		UserRepo: users,
		PartRepo: &ParticipationRepo{users: users},
	}
}

var (
	_ repository.UserRepo          = (*UserRepo)(nil)
	_ repository.ParticipationRepo = (*ParticipationRepo)(nil)
)

// UserRepo keeps users in memory. Set Err to make every call fail with it.
type UserRepo struct {
	mu     sync.Mutex
	byID   map[int64]*models.User
	nextID int64
	Err    error
}

// Put stores u as-is (assigning an id when zero) and returns the stored copy's id.
func (m *UserRepo) Put(u models.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		m.nextID++
		u.ID = m.nextID
	} else if u.ID > m.nextID {
		m.nextID = u.ID
	}
	if u.ParticipatedInitiatives == nil {
		u.ParticipatedInitiatives = []models.Participation{}
	}
	m.byID[u.ID] = &u
	return u.ID
}

func (m *UserRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			m.mu.Unlock()
			return 0, repository.ErrConflict
		}
	}
	m.mu.Unlock()
	return m.Put(models.User{Email: u.Email, PasswordHash: u.PasswordHash, Points: u.Points}), nil
}

func (m *UserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return clone(u), nil
	}
	return nil, repository.ErrNotFound
}

func (m *UserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.User{}
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.byID[id]; ok {
			out = append(out, *clone(u))
		}
	}
	return out, nil
}

func (m *UserRepo) UpdateUser(ctx context.Context, u *models.User) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range m.byID {
		if id != u.ID && other.Email == u.Email {
			return repository.ErrConflict
		}
	}
	cur.Email = u.Email
	cur.PasswordHash = u.PasswordHash
	return nil
}

// ParticipationRepo appends to the shared user records.
type ParticipationRepo struct {
	users *UserRepo
	Err   error
}

func (m *ParticipationRepo) AddParticipation(ctx context.Context, p *models.Participation) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	u, ok := m.users.byID[p.UserID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	rec := *p
	rec.ID = int64(len(u.ParticipatedInitiatives) + 1)
	u.ParticipatedInitiatives = append(u.ParticipatedInitiatives, rec)
	u.Points += p.PointsEarned
	return rec.ID, nil
}

func (m *ParticipationRepo) ListParticipations(ctx context.Context, userID int64) ([]models.Participation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	u, ok := m.users.byID[userID]
	if !ok {
		return []models.Participation{}, nil
	}
	return append([]models.Participation{}, u.ParticipatedInitiatives...), nil
}

func clone(u *models.User) *models.User {
	c := *u
	c.ParticipatedInitiatives = append([]models.Participation{}, u.ParticipatedInitiatives...)
	return &c
}
