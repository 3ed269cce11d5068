package entity

import (
	"fmt"
	"regexp"

	"github.com/odi-dev/odi/internal/odierr"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const maxLabelNameCodepoints = 30

// Label is a project-scoped tag. Uniqueness of Name within a project is
// enforced by the Repository Facade (C6), not here, since it requires
// looking at sibling labels.
type Label struct {
	ID        LabelID   `odi:"1"`
	ProjectID ProjectID `odi:"2"`
	Name      string    `odi:"3"`
	Color     string    `odi:"4"`
}

func (l *Label) Validate() error {
	if n := codepointLen(l.Name); n == 0 || n > maxLabelNameCodepoints {
		return fmt.Errorf("%w: label name must be 1-%d codepoints", odierr.ErrInvalidIdentifier, maxLabelNameCodepoints)
	}
	if !colorPattern.MatchString(l.Color) {
		return fmt.Errorf("%w: color %q must match %s", odierr.ErrInvalidColor, l.Color, colorPattern.String())
	}
	return nil
}
