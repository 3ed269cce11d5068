package entity

import (
	"fmt"
	"net/mail"
	"regexp"

	"github.com/odi-dev/odi/internal/odierr"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)

// User is a tracked human or service identity.
type User struct {
	ID          UserID   `odi:"1"`
	DisplayName string   `odi:"2"`
	Email       string   `odi:"3"`
	AvatarURI   string   `odi:"4"`
	Teams       []string `odi:"5"` // sorted set of Team IDs
}

const maxUserDisplayNameCodepoints = 50

func (u *User) Validate() error {
	if !userIDPattern.MatchString(string(u.ID)) {
		return fmt.Errorf("%w: user id %q must match %s", odierr.ErrInvalidIdentifier, u.ID, userIDPattern.String())
	}
	if n := codepointLen(u.DisplayName); n == 0 || n > maxUserDisplayNameCodepoints {
		return fmt.Errorf("%w: user display name must be 1-%d codepoints", odierr.ErrInvalidIdentifier, maxUserDisplayNameCodepoints)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: %v", odierr.ErrInvalidEmail, err)
	}
	return nil
}

// Team is a named group of users with shared permissions and project access.
type Team struct {
	ID            string      `odi:"1"`
	DisplayName   string      `odi:"2"`
	Members       []UserID    `odi:"3"` // sorted set, must be non-empty
	Permissions   []string    `odi:"4"` // sorted set
	ProjectAccess []ProjectID `odi:"5"` // sorted set
}

func (t *Team) Validate() error {
	if !userIDPattern.MatchString(t.ID) {
		return fmt.Errorf("%w: team id %q must match %s", odierr.ErrInvalidIdentifier, t.ID, userIDPattern.String())
	}
	if n := codepointLen(t.DisplayName); n == 0 || n > maxUserDisplayNameCodepoints {
		return fmt.Errorf("%w: team display name must be 1-%d codepoints", odierr.ErrInvalidIdentifier, maxUserDisplayNameCodepoints)
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("%w: team must have at least one member", odierr.ErrInvalidIdentifier)
	}
	return nil
}
