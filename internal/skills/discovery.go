package skills

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Discovery scans a skills directory ({base}/skills/<name>/SKILL.md) and
// caches the parsed metadata until invalidated.
type Discovery struct {
	root string

	mu     sync.Mutex
	cached []*Skill
	valid  bool
}

// NewDiscovery creates a discovery rooted at dir.
func NewDiscovery(dir string) *Discovery {
	return &Discovery{root: dir}
}

// Root returns the skills directory.
func (d *Discovery) Root() string {
	return d.root
}

// List returns every valid skill under the root, sorted by name. Directories
// without a parseable SKILL.md are skipped.
func (d *Discovery) List() ([]*Skill, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid {
		return d.cached, nil
	}

	entries, err := os.ReadDir(d.root)
	if os.IsNotExist(err) {
		d.cached, d.valid = nil, true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var found []*Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(d.root, entry.Name())
		skill, err := ParseSkillFile(filepath.Join(dir, SkillFilename))
		if err != nil {
			continue
		}
		skill.Resources = listResources(dir)
		found = append(found, skill)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	d.cached, d.valid = found, true
	return found, nil
}

// Find returns the skill with the given frontmatter name.
func (d *Discovery) Find(name string) (*Skill, error) {
	skills, err := d.List()
	if err != nil {
		return nil, err
	}
	for _, skill := range skills {
		if skill.Name == name {
			return skill, nil
		}
	}
	return nil, fmt.Errorf("skill %q not found", name)
}

// Filter returns the subset of skills whose names are in allowed.
func (d *Discovery) Filter(allowed map[string]struct{}) ([]*Skill, error) {
	skills, err := d.List()
	if err != nil {
		return nil, err
	}
	var out []*Skill
	for _, skill := range skills {
		if _, ok := allowed[skill.Name]; ok {
			out = append(out, skill)
		}
	}
	return out, nil
}

// Invalidate drops the cached listing.
func (d *Discovery) Invalidate() {
	d.mu.Lock()
	d.valid = false
	d.mu.Unlock()
}

func listResources(dir string) []string {
	var resources []string
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if entry.Name() == SkillFilename {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		resources = append(resources, rel)
		return nil
	})
	sort.Strings(resources)
	return resources
}
