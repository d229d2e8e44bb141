package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under the chirp base dir, so the
// charset is restricted to filesystem-safe lowercase tokens.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must be 1-64 chars of [a-z0-9_-]", name)
	}
	return nil
}
