package entity

import (
	"fmt"
	"regexp"

	"github.com/odi-dev/odi/internal/odierr"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,100}$`)

// ProjectSettings holds free-form per-project knobs not otherwise modeled.
type ProjectSettings struct {
	VCSIntegration bool     `odi:"1"`
	DefaultLabels  []string `odi:"2"`
}

// Project groups issues under a shared identifier and label set.
type Project struct {
	ID          ProjectID       `odi:"1"`
	Name        string          `odi:"2"`
	Description string          `odi:"3"`
	Labels      []LabelID       `odi:"4"` // sorted set
	WorkspaceID string          `odi:"5"`
	Settings    ProjectSettings `odi:"6"`
}

const maxProjectNameCodepoints = 100

func (p *Project) Validate() error {
	if !projectIDPattern.MatchString(string(p.ID)) {
		return fmt.Errorf("%w: project id %q must match %s", odierr.ErrInvalidIdentifier, p.ID, projectIDPattern.String())
	}
	if n := codepointLen(p.Name); n == 0 || n > maxProjectNameCodepoints {
		return fmt.Errorf("%w: project name must be 1-%d codepoints", odierr.ErrInvalidIdentifier, maxProjectNameCodepoints)
	}
	return nil
}

func codepointLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
