// Package skills parses and discovers SKILL.md skill packages.
package skills

// Skill is one parsed skill: frontmatter metadata plus markdown
// instructions. Resources are the extra files shipped alongside SKILL.md.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version,omitempty"`
	Author      string   `yaml:"author,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`

	// Content is the markdown body following the frontmatter.
	Content string `yaml:"-"`

	// Path is the skill directory on disk.
	Path string `yaml:"-"`

	// Resources are paths relative to the skill directory, SKILL.md
	// excluded.
	Resources []string `yaml:"-"`
}
