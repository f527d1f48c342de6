// Package detector infers the SSH authentication outcome, its timing and
// the kind of post-authentication traffic from the derived flow attributes.
package detector

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCategory is returned for classifier labels that do not name a
// known cipher/MAC category. Detection cannot continue without the
// category thresholds, so callers treat it as fatal.
var ErrUnknownCategory = errors.New("unknown MAC category")

// MacCategory is the packet size signature of a cipher block size and
// MAC length combination.
type MacCategory struct {
	Name string
	// UserauthSize is the size of SSH_MSG_SERVICE_REQUEST("ssh-userauth").
	UserauthSize uint16
	// SuccessSize is the size of SSH_MSG_USERAUTH_SUCCESS.
	SuccessSize uint16
}

// MacCategories maps "blockSize + macSize" names to their signature.
var MacCategories = map[string]MacCategory{
	"8 + 8":   {"8 + 8", 32, 16},
	"8 + 12":  {"8 + 12", 36, 20},
	"8 + 16":  {"8 + 16", 40, 24},
	"8 + 20":  {"8 + 20", 44, 28},
	"8 + 24":  {"8 + 24", 48, 32},
	"8 + 32":  {"8 + 32", 56, 40},
	"8 + 36":  {"8 + 36", 60, 44},
	"8 + 64":  {"8 + 64", 88, 72},
	"8 + 68":  {"8 + 68", 92, 76},
	"16 + 8":  {"16 + 8", 40, 24},
	"16 + 12": {"16 + 12", 44, 28},
	"16 + 16": {"16 + 16", 48, 32},
	"16 + 20": {"16 + 20", 52, 36},
	"16 + 24": {"16 + 24", 56, 40},
	"16 + 32": {"16 + 32", 64, 48},
	"16 + 36": {"16 + 36", 68, 52},
	"16 + 64": {"16 + 64", 96, 80},
	"16 + 68": {"16 + 68", 100, 84},
}

// categoryAliases renames the labels the classifier was trained with for
// encrypt-then-MAC suites to the category whose sizes they produce.
var categoryAliases = map[string]string{
	"8 + 20":  "8 + 24",
	"8 + 32":  "8 + 36",
	"8 + 64":  "8 + 68",
	"16 + 32": "16 + 36",
	"16 + 64": "16 + 68",
}

// normalizeLabel rewrites "8+16", "8  + 16" and similar to "8 + 16".
func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(label, "+", " + ")), " ")
}

// ResolveCategory maps a classifier label to its category, applying the
// alias table.
func ResolveCategory(label string) (MacCategory, error) {
	name := normalizeLabel(label)
	if alias, ok := categoryAliases[name]; ok {
		name = alias
	}
	cat, ok := MacCategories[name]
	if !ok {
		return MacCategory{}, fmt.Errorf("%w: %q", ErrUnknownCategory, label)
	}
	return cat, nil
}

// CategoryNames returns the sorted names of all known categories.
func CategoryNames() []string {
	names := make([]string, 0, len(MacCategories))
	for name := range MacCategories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
