package models

// Domain models matching the database schema in db/migrations/0001_init.sql

// User is a registered participant. PasswordHash never leaves the server.
type User struct {
	ID                      int64           `json:"id" db:"id"`
	Email                   string          `json:"email" db:"email"`
	PasswordHash            string          `json:"-" db:"password_hash"`
	Points                  int64           `json:"points" db:"points"`
	ParticipatedInitiatives []Participation `json:"participatedInitiatives"`
	Updated                 int64           `json:"updated,omitempty" db:"updated"`
}

// Participation records that a user engaged with the catalog initiative at
// position InitiativeID (1-based).
type Participation struct {
	ID               int64  `json:"-" db:"id"`
	UserID           int64  `json:"-" db:"user_id"`
	InitiativeID     int    `json:"initiativeId" db:"initiative_id"`
	DateParticipated string `json:"dateParticipated" db:"date_participated"`
	PointsEarned     int64  `json:"pointsEarned" db:"points_earned"`
	Contribution     string `json:"contribution" db:"contribution"`
}

// UserPatch is a partial update of the mutable user fields. Nil fields are
// left unchanged.
type UserPatch struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Email == nil && p.Password == nil
}
