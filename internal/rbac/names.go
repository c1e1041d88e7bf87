package rbac

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/edu-platform/edu-platform/internal/shared"
)

const maxNameLength = 128

// normalizeName trims name and returns it together with its uniqueness key.
// Keys are Unicode case-folded so "Admin" and "admin" collide.
func normalizeName(kind, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: %s name required", shared.ErrValidation, kind)
	}
	if len(name) > maxNameLength {
		return "", "", fmt.Errorf("%w: %s name longer than %d bytes", shared.ErrValidation, kind, maxNameLength)
	}
	return name, nameKey(name), nil
}

func nameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// uniqueIDs drops non-positive and repeated ids, keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
