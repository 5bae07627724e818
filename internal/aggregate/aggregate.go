// Package aggregate derives the dashboard view of a user from their
// participation records and a catalog snapshot.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/pkg/models"
)

// Static weights used to split a user's points into display buckets.
const (
	EnvironmentalWeight = 0.35
	SocialWeight        = 0.40
	InnovationWeight    = 0.25
)

// ErrBrokenJoin matches any participation whose initiative id is outside the catalog.
var ErrBrokenJoin = errors.New("broken join")

// BrokenJoinError identifies the participation record that failed to join.
type BrokenJoinError struct {
	// Position is the record's 0-based position in the user's participation list.
	Position     int `json:"position"`
	InitiativeID int `json:"initiativeId"`
	CatalogSize  int `json:"catalogSize"`
}

func (e *BrokenJoinError) Error() string {
	return fmt.Sprintf("broken join: participation %d references initiative %d, catalog has %d", e.Position, e.InitiativeID, e.CatalogSize)
}

func (e *BrokenJoinError) Is(target error) bool { return target == ErrBrokenJoin }

// Entry is one joined participation.
type Entry struct {
	InitiativeDetails catalog.Initiative `json:"initiativeDetails"`
	DateParticipated  string             `json:"dateParticipated"`
	PointsEarned      int64              `json:"pointsEarned"`
	Contribution      string             `json:"contribution"`
}

// Categories is the weighted split of a user's points.
type Categories struct {
	Environmental int64 `json:"environmental"`
	Social        int64 `json:"social"`
	Innovation    int64 `json:"innovation"`
}

// MyInitiatives joins each participation with its catalog row, preserving
// record order. Records that do not resolve are left out of the result and
// reported together in the returned error; every one of them matches
// ErrBrokenJoin and can be inspected as *BrokenJoinError.
func MyInitiatives(u *models.User, snap *catalog.Snapshot) ([]Entry, error) {
	if u == nil {
		return []Entry{}, nil
	}

	entries := make([]Entry, 0, len(u.ParticipatedInitiatives))
	var errs []error
	for i, p := range u.ParticipatedInitiatives {
		in, ok := snap.Lookup(p.InitiativeID)
		if !ok {
			errs = append(errs, &BrokenJoinError{Position: i, InitiativeID: p.InitiativeID, CatalogSize: snap.Len()})
			continue
		}
		entries = append(entries, Entry{
			InitiativeDetails: in,
			DateParticipated:  p.DateParticipated,
			PointsEarned:      p.PointsEarned,
			Contribution:      p.Contribution,
		})
	}

	return entries, errors.Join(errs...)
}

// CategoryPoints rounds each bucket independently, so the buckets may sum to
// points ±1.
func CategoryPoints(points int64) Categories {
	if points < 0 {
		points = 0
	}
	return Categories{
		Environmental: bucket(points, EnvironmentalWeight),
		Social:        bucket(points, SocialWeight),
		Innovation:    bucket(points, InnovationWeight),
	}
}

func bucket(points int64, weight float64) int64 {
	return int64(math.Round(float64(points) * weight))
}

// BrokenJoins unpacks the *BrokenJoinError values carried by err.
func BrokenJoins(err error) []*BrokenJoinError {
	if err == nil {
		return nil
	}
	var out []*BrokenJoinError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, BrokenJoins(e)...)
		}
		return out
	}
	var bj *BrokenJoinError
	if errors.As(err, &bj) {
		out = append(out, bj)
	}
	return out
}
