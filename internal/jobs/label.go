package jobs

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/vulnscan/internal/errors"
)

// MaxLabelLength is the longest label kept, in runes.
const MaxLabelLength = 100

var (
	tagPattern = regexp.MustCompile(`<[^>]*>`)
	validate   = validator.New()
)

// ValidateTarget checks that target is a literal IPv4 or IPv6 address.
func ValidateTarget(target string) error {
	if err := validate.Var(target, "required,ip"); err != nil {
		return errors.ErrInvalidTarget(target)
	}
	return nil
}

// SanitizeLabel strips markup from a user supplied label and caps its
// length. An empty label becomes "Scan YYYY-MM-DD HH:MM" for now.
func SanitizeLabel(label string, now time.Time) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "Scan " + now.UTC().Format("2006-01-02 15:04")
	}

	label = strings.TrimSpace(tagPattern.ReplaceAllString(label, ""))
	if label == "" {
		return "Unnamed Scan"
	}

	if runes := []rune(label); len(runes) > MaxLabelLength {
		label = string(runes[:MaxLabelLength])
	}
	return label
}
