package sites

import (
	"context"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/tracker-search/library/search"
)

// Registry resolves solutions against loaded site definitions.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	defaultSolution string
	sites           []Site
	siteByID        map[string]int
	solutions       []Solution
	solutionByID    map[string]int
}

func newRegistry(f File) *Registry {
	r := &Registry{
		defaultSolution: f.DefaultSolution,
		sites:           f.Sites,
		siteByID:        make(map[string]int, len(f.Sites)),
		solutions:       f.Solutions,
		solutionByID:    make(map[string]int, len(f.Solutions)),
	}
	if r.defaultSolution == "" {
		r.defaultSolution = AllSolutionID
	}
	for i, s := range f.Sites {
		r.siteByID[s.ID] = i
	}
	for i, s := range f.Solutions {
		r.solutionByID[s.ID] = i
	}
	return r
}

// WithDefaultSolution returns a copy of r whose default solution is id.
func (r *Registry) WithDefaultSolution(id string) (*Registry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return r, nil
	}
	if _, ok := r.solutionByID[id]; !ok && id != AllSolutionID {
		return nil, errors.Wrapf(ErrSolutionNotFound, "default solution %q", id)
	}

	cp := *r
	cp.defaultSolution = id
	return &cp, nil
}

// DefaultSolution returns the solution used for an empty solution id.
func (r *Registry) DefaultSolution() string {
	return r.defaultSolution
}

// Sites returns every defined site, offline ones included.
func (r *Registry) Sites() []Site {
	return append([]Site(nil), r.sites...)
}

// Site returns one site by id.
func (r *Registry) Site(id string) (Site, bool) {
	i, ok := r.siteByID[id]
	if !ok {
		return Site{}, false
	}
	return r.sites[i], true
}

// Solutions returns the built-in solution followed by the defined ones.
func (r *Registry) Solutions() []Solution {
	out := make([]Solution, 0, len(r.solutions)+1)
	all := Solution{ID: AllSolutionID, Name: "All sites"}
	for _, s := range r.sites {
		all.Sources = append(all.Sources, SourceRef{Site: s.ID})
	}
	out = append(out, all)
	return append(out, r.solutions...)
}

// Resolve expands solutionID into one SourceEntry per enabled entry of every online site.
// Entry configs are Target values.
func (r *Registry) Resolve(_ context.Context, solutionID string) ([]search.SourceEntry, error) {
	solutionID = strings.TrimSpace(solutionID)
	if solutionID == "" {
		solutionID = r.defaultSolution
	}

	var refs []SourceRef
	if solutionID == AllSolutionID {
		for _, s := range r.sites {
			refs = append(refs, SourceRef{Site: s.ID})
		}
	} else {
		i, ok := r.solutionByID[solutionID]
		if !ok {
			return nil, errors.Wrapf(ErrSolutionNotFound, "%q", solutionID)
		}
		refs = r.solutions[i].Sources
	}

	var out []search.SourceEntry
	for _, ref := range refs {
		site := r.sites[r.siteByID[ref.Site]]
		if site.Offline {
			continue
		}

		wanted := make(map[string]struct{}, len(ref.Entries))
		for _, name := range ref.Entries {
			wanted[name] = struct{}{}
		}
		for _, entry := range site.Entries {
			if entry.Disabled {
				continue
			}
			if _, ok := wanted[entry.Name]; len(wanted) > 0 && !ok {
				continue
			}
			out = append(out, search.SourceEntry{
				SourceID:  site.ID,
				EntryName: entry.Name,
				Config:    Target{Site: site, Entry: entry},
			})
		}
	}

	return out, nil
}
