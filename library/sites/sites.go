// Package sites loads tracker site definitions and expands solutions into searchable sources.
package sites

import (
	"net/url"
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

// AllSolutionID is the built-in solution covering every enabled entry of every online site.
const AllSolutionID = "all"

// Schema tells the adapter dispatcher how an entry's response is parsed.
type Schema string

const (
	// SchemaJSON entries answer with JSON, fields are dot paths.
	SchemaJSON Schema = "json"
	// SchemaHTML entries answer with HTML, fields are CSS selectors.
	SchemaHTML Schema = "html"
)

var (
	// ErrSolutionNotFound is returned when a solution id is unknown.
	ErrSolutionNotFound = errors.New("solution not found")
	// ErrInvalidDefinition is returned when the definitions file is inconsistent.
	ErrInvalidDefinition = errors.New("invalid site definition")
)

// File is the on-disk layout of the definitions file.
type File struct {
	DefaultSolution string     `yaml:"default_solution"`
	Sites           []Site     `yaml:"sites"`
	Solutions       []Solution `yaml:"solutions"`
}

// Site is one tracker.
type Site struct {
	ID      string            `yaml:"id" json:"id"`
	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Offline bool              `yaml:"offline" json:"offline"`
	Headers map[string]string `yaml:"headers" json:"-"`
	Entries []Entry           `yaml:"entries" json:"entries"`
}

// Entry is one named search endpoint of a site.
type Entry struct {
	Name       string `yaml:"name" json:"name"`
	Schema     Schema `yaml:"schema" json:"schema"`
	Path       string `yaml:"path" json:"path"`
	Method     string `yaml:"method" json:"method,omitempty"`
	QueryParam string `yaml:"query_param" json:"query_param,omitempty"`
	// Rows selects the list of items: a dot path for json, a CSS selector for html.
	Rows string `yaml:"rows" json:"-"`
	// Fields maps record field names to dot paths or CSS selectors.
	Fields           map[string]string `yaml:"fields" json:"-"`
	LoginMarkers     []string          `yaml:"login_markers" json:"-"`
	ChallengeMarkers []string          `yaml:"challenge_markers" json:"-"`
	Disabled         bool              `yaml:"disabled" json:"disabled"`
}

// Solution is a named set of sources searched together.
type Solution struct {
	ID      string      `yaml:"id" json:"id"`
	Name    string      `yaml:"name" json:"name"`
	Sources []SourceRef `yaml:"sources" json:"sources"`
}

// SourceRef points at entries of one site. No entries means every entry of the site.
type SourceRef struct {
	Site    string   `yaml:"site" json:"site"`
	Entries []string `yaml:"entries" json:"entries,omitempty"`
}

// Target is the entry config handed to source adapters.
type Target struct {
	Site  Site
	Entry Entry
}

// URL builds the request url of the entry.
func (t Target) URL() (*url.URL, error) {
	base, err := url.Parse(t.Site.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse site url %q", t.Site.URL)
	}
	ref, err := url.Parse(t.Entry.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "parse entry path %q", t.Entry.Path)
	}
	return base.ResolveReference(ref), nil
}

// Load reads and validates a definitions file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read site definitions %q", path)
	}

	reg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load site definitions %q", path)
	}
	return reg, nil
}

// Parse decodes and validates definitions.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode site definitions")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return newRegistry(f), nil
}

// Validate checks ids, schemas and solution references.
func (f *File) Validate() error {
	sites := make(map[string]map[string]struct{}, len(f.Sites))
	for i := range f.Sites {
		s := &f.Sites[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return errors.Wrapf(ErrInvalidDefinition, "sites[%d]: empty id", i)
		}
		if _, ok := sites[s.ID]; ok {
			return errors.Wrapf(ErrInvalidDefinition, "duplicate site %q", s.ID)
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Wrapf(ErrInvalidDefinition, "site %q: invalid url %q", s.ID, s.URL)
		}

		entries := make(map[string]struct{}, len(s.Entries))
		for j := range s.Entries {
			e := &s.Entries[j]
			if err := e.validate(); err != nil {
				return errors.Wrapf(err, "site %q entries[%d]", s.ID, j)
			}
			if _, ok := entries[e.Name]; ok {
				return errors.Wrapf(ErrInvalidDefinition, "site %q: duplicate entry %q", s.ID, e.Name)
			}
			entries[e.Name] = struct{}{}
		}
		sites[s.ID] = entries
	}

	solutions := make(map[string]struct{}, len(f.Solutions))
	for i, sol := range f.Solutions {
		if sol.ID == "" {
			return errors.Wrapf(ErrInvalidDefinition, "solutions[%d]: empty id", i)
		}
		if sol.ID == AllSolutionID {
			return errors.Wrapf(ErrInvalidDefinition, "solution id %q is reserved", AllSolutionID)
		}
		if _, ok := solutions[sol.ID]; ok {
			return errors.Wrapf(ErrInvalidDefinition, "duplicate solution %q", sol.ID)
		}
		solutions[sol.ID] = struct{}{}

		for _, ref := range sol.Sources {
			entries, ok := sites[ref.Site]
			if !ok {
				return errors.Wrapf(ErrInvalidDefinition, "solution %q: unknown site %q", sol.ID, ref.Site)
			}
			for _, name := range ref.Entries {
				if _, ok := entries[name]; !ok {
					return errors.Wrapf(ErrInvalidDefinition,
						"solution %q: unknown entry %q of site %q", sol.ID, name, ref.Site)
				}
			}
		}
	}

	if f.DefaultSolution != "" && f.DefaultSolution != AllSolutionID {
		if _, ok := solutions[f.DefaultSolution]; !ok {
			return errors.Wrapf(ErrInvalidDefinition, "unknown default solution %q", f.DefaultSolution)
		}
	}
	return nil
}

func (e *Entry) validate() error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return errors.Wrap(ErrInvalidDefinition, "empty entry name")
	}
	switch e.Schema {
	case SchemaJSON, SchemaHTML:
	default:
		return errors.Wrapf(ErrInvalidDefinition, "entry %q: unknown schema %q", e.Name, e.Schema)
	}
	if strings.TrimSpace(e.Rows) == "" {
		return errors.Wrapf(ErrInvalidDefinition, "entry %q: rows is required", e.Name)
	}
	if e.Fields["title"] == "" {
		return errors.Wrapf(ErrInvalidDefinition, "entry %q: fields.title is required", e.Name)
	}

	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = "GET"
	}
	if e.QueryParam == "" {
		e.QueryParam = "q"
	}
	return nil
}
