// Package seed imports the users fixture into the store.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/initiatives/internal/auth"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

// Default fixture locations inside the embedded seed FS.
const (
	UsersFile  = "seed/users.json"
	SchemaFile = "seed/users.schema.json"
)

// ErrInvalidFixture wraps schema violations.
var ErrInvalidFixture = errors.New("invalid users fixture")

// User is one fixture entry. Passwords are plaintext here and hashed on import.
type User struct {
	Email                   string                 `json:"email"`
	Password                string                 `json:"password"`
	Points                  int64                  `json:"points"`
	ParticipatedInitiatives []models.Participation `json:"participatedInitiatives"`
}

// Result summarizes an import.
type Result struct {
	Created        int
	Skipped        int
	Participations int
}

// Importer validates fixtures against a JSON schema and writes them through
// the repositories.
type Importer struct {
	users  repository.UserRepo
	parts  repository.ParticipationRepo
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewImporter compiles schemaJSON.
func NewImporter(ur repository.UserRepo, pr repository.ParticipationRepo, schemaJSON []byte, logger *slog.Logger) (*Importer, error) {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(schemaJSON, rs); err != nil {
		return nil, fmt.Errorf("compile users schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{users: ur, parts: pr, schema: rs, logger: logger}, nil
}

// NewEmbeddedImporter uses the schema shipped in fsys.
func NewEmbeddedImporter(ur repository.UserRepo, pr repository.ParticipationRepo, fsys fs.FS, logger *slog.Logger) (*Importer, error) {
	schema, err := fs.ReadFile(fsys, SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("read users schema: %w", err)
	}
	return NewImporter(ur, pr, schema, logger)
}

// Validate checks data against the schema and decodes it.
func (im *Importer) Validate(ctx context.Context, data []byte) ([]User, error) {
	verrs, err := im.schema.ValidateBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for i, v := range verrs {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(v.PropertyPath)
			sb.WriteString(": ")
			sb.WriteString(v.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidFixture, sb.String())
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return users, nil
}

// Import validates data and creates every user whose email is not taken yet.
// The fixture's points are the user's final total: participations are
// credited on top of whatever points they do not already account for.
func (im *Importer) Import(ctx context.Context, data []byte) (Result, error) {
	var res Result
	users, err := im.Validate(ctx, data)
	if err != nil {
		return res, err
	}

	for _, fu := range users {
		hash, err := auth.HashPassword(fu.Password)
		if err != nil {
			return res, fmt.Errorf("hash password for %s: %w", fu.Email, err)
		}

		var earned int64
		for _, p := range fu.ParticipatedInitiatives {
			earned += p.PointsEarned
		}

		id, err := im.users.CreateUser(ctx, &models.User{
			Email:        fu.Email,
			PasswordHash: hash,
			Points:       max(fu.Points-earned, 0),
		})
		if errors.Is(err, repository.ErrConflict) {
			im.logger.Info("seed: user exists, skipping", slog.String("email", fu.Email))
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create %s: %w", fu.Email, err)
		}
		res.Created++

		for _, p := range fu.ParticipatedInitiatives {
			p.UserID = id
			if _, err := im.parts.AddParticipation(ctx, &p); err != nil {
				return res, fmt.Errorf("add participation for %s: %w", fu.Email, err)
			}
			res.Participations++
		}
	}

	im.logger.Info("seed: import finished",
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("participations", res.Participations),
	)
	return res, nil
}

// ImportFile imports the fixture at path, or the embedded default when path is empty.
func (im *Importer) ImportFile(ctx context.Context, path string, embedded fs.FS) (Result, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = fs.ReadFile(embedded, UsersFile)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read users fixture: %w", err)
	}
	return im.Import(ctx, data)
}
