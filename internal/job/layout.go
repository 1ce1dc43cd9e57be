package job

import (
	"errors"
	"fmt"
	"strings"
)

// OrphanArea is the library directory reserved for orphaned jobs; no
// calculation type may use it.
const OrphanArea = "orphan"

// ErrLayout marks a record whose name, type or grouping cannot be mapped to a
// library path.
var ErrLayout = errors.New("job: invalid library layout")

// LibraryPath returns the library directories for a calculation type and
// grouping: the type followed by each grouping segment.
func LibraryPath(calcType, grouping string) ([]string, error) {
	calcType = strings.TrimSpace(calcType)
	if calcType == "" {
		return nil, fmt.Errorf("%w: empty calculation type", ErrLayout)
	}
	if err := ValidSegment(calcType); err != nil {
		return nil, fmt.Errorf("calculation type: %w", err)
	}
	if calcType == OrphanArea {
		return nil, fmt.Errorf("%w: calculation type %q is reserved", ErrLayout, OrphanArea)
	}
	segments := []string{calcType}
	if g := strings.Trim(grouping, "/"); g != "" {
		for _, part := range strings.Split(g, "/") {
			if err := ValidSegment(part); err != nil {
				return nil, fmt.Errorf("grouping: %w", err)
			}
			segments = append(segments, part)
		}
	}
	return segments, nil
}

// ValidSegment reports whether s can be used as one file or directory name in
// the library.
func ValidSegment(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("%w: empty path segment", ErrLayout)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%w: hidden or relative segment %q", ErrLayout, s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: segment %q contains a path separator", ErrLayout, s)
	}
	return nil
}
