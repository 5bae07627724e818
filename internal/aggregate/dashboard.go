package aggregate

import (
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/pkg/models"
)

// Dashboard is the derived view shown to a signed-in user.
type Dashboard struct {
	MyInitiatives  []Entry            `json:"myInitiatives"`
	CategoryPoints Categories         `json:"categoryPoints"`
	BrokenJoins    []*BrokenJoinError `json:"brokenJoins,omitempty"`
}

// Build assembles the dashboard. Broken joins are both listed on the
// dashboard and returned as the error, so callers can render the valid part
// and still react to the integrity problem.
func Build(u *models.User, snap *catalog.Snapshot) (*Dashboard, error) {
	entries, err := MyInitiatives(u, snap)
	d := &Dashboard{
		MyInitiatives: entries,
		BrokenJoins:   BrokenJoins(err),
	}
	if u != nil {
		d.CategoryPoints = CategoryPoints(u.Points)
	}
	return d, err
}
