package transport

import "fmt"

// MaxServiceTagLen is the longest service tag peers can advertise under.
const MaxServiceTagLen = 15

// ValidateServiceTag checks tag against the service naming rules: 1 to 15
// characters of lowercase ASCII letters, digits and hyphens, at least one
// letter, no leading or trailing hyphen and no two hyphens in a row.
func ValidateServiceTag(tag string) error {
	if len(tag) == 0 || len(tag) > MaxServiceTagLen {
		return fmt.Errorf("%w: service tag %q must be 1-%d characters", ErrInvalidConfiguration, tag, MaxServiceTagLen)
	}
	hasLetter := false
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		switch {
		case c >= 'a' && c <= 'z':
			hasLetter = true
		case c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(tag)-1 {
				return fmt.Errorf("%w: service tag %q must not start or end with a hyphen", ErrInvalidConfiguration, tag)
			}
			if tag[i-1] == '-' {
				return fmt.Errorf("%w: service tag %q must not contain adjacent hyphens", ErrInvalidConfiguration, tag)
			}
		default:
			return fmt.Errorf("%w: service tag %q contains %q", ErrInvalidConfiguration, tag, c)
		}
	}
	if !hasLetter {
		return fmt.Errorf("%w: service tag %q needs at least one letter", ErrInvalidConfiguration, tag)
	}
	return nil
}
