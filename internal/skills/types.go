// Package skills provides the file-based skill library: reusable
// instruction documents the model loads into a session on demand.
package skills

// Skill is one discovered skill definition.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when to load it.
	// Descriptions are surfaced to the model in list_skills output.
	Description string `json:"description" yaml:"description"`

	// Content is the markdown body with the full instructions.
	Content string `json:"-" yaml:"-"`

	// Path is the directory the skill was discovered in.
	Path string `json:"path" yaml:"-"`
}
