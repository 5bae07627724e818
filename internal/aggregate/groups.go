package aggregate

import "github.com/garnizeh/initiatives/internal/catalog"

// GroupedInitiative is a distinct initiative name under a company.
type GroupedInitiative struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CompanyGroup lists the distinct initiatives of one company in first-seen order.
type CompanyGroup struct {
	Company     string              `json:"company"`
	Initiatives []GroupedInitiative `json:"initiatives"`
}

// Groups is the deduplicated browse view of the whole catalog.
type Groups []CompanyGroup

// CompanyGroups groups the catalog by exact (company, initiative name) and
// counts every duplicate row.
func CompanyGroups(snap *catalog.Snapshot) Groups {
	groups := Groups{}
	if snap == nil {
		return groups
	}

	companyIdx := make(map[string]int)
	nameIdx := make(map[string]map[string]int)
	for _, in := range snap.Initiatives {
		ci, ok := companyIdx[in.Company]
		if !ok {
			ci = len(groups)
			companyIdx[in.Company] = ci
			nameIdx[in.Company] = make(map[string]int)
			groups = append(groups, CompanyGroup{Company: in.Company})
		}

		if ni, ok := nameIdx[in.Company][in.Name]; ok {
			groups[ci].Initiatives[ni].Count++
			continue
		}
		nameIdx[in.Company][in.Name] = len(groups[ci].Initiatives)
		groups[ci].Initiatives = append(groups[ci].Initiatives, GroupedInitiative{Name: in.Name, Count: 1})
	}

	return groups
}

// Counts flattens the groups into company -> initiative name -> count.
func (g Groups) Counts() map[string]map[string]int {
	out := make(map[string]map[string]int, len(g))
	for _, c := range g {
		names := make(map[string]int, len(c.Initiatives))
		for _, in := range c.Initiatives {
			names[in.Name] = in.Count
		}
		out[c.Company] = names
	}
	return out
}
