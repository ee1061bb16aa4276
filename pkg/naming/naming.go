// Package naming derives destination-safe identifiers for duplicated
// entities. The prefix is fixed for an entire run and threaded through
// explicitly; nothing here holds state.
package naming

import (
	"strings"

	"github.com/google/uuid"

	"github.com/walteh/coursemirror/pkg/lms"
)

// PrefixedShortName returns the destination short name for a duplicated
// course: the run prefix, a single space, then the source short name. No
// uniqueness enforcement happens here; the repository rejects collisions at
// creation time.
func PrefixedShortName(prefix, shortName string) string {
	return prefix + " " + shortName
}

// CloneCategory copies the descriptive fields of a source category into a
// fresh category under the given parent. The field set is an explicit
// allow-list: name, description, description format, theme, visibility. A
// non-empty source idnumber gets a process-unique suffix so the clone never
// collides with the source; an empty one stays empty.
func CloneCategory(src lms.Category, parent int64) lms.Category {
	clone := lms.Category{
		Name:              src.Name,
		Parent:            parent,
		Description:       src.Description,
		DescriptionFormat: src.DescriptionFormat,
		Theme:             src.Theme,
		Visible:           src.Visible,
	}
	if src.IDNumber != "" {
		clone.IDNumber = src.IDNumber + "_" + uniqueToken()
	}
	return clone
}

func uniqueToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
}
