package updater

import (
	"strconv"
	"strings"
)

// Version is a parsed semantic version. Dev and unparseable versions have
// Major/Minor/Patch all zero with Raw preserved.
type Version struct {
	Major int
	Minor int
	Patch int
	Raw   string
}

// ParseVersion parses a version string like "1.2.3" or "v1.2.3".
// Pre-release suffixes ("1.2.3-rc1") are tolerated and ignored for
// comparison purposes.
func ParseVersion(s string) Version {
	v := Version{Raw: s}

	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "v")

	// Strip pre-release / build metadata suffixes
	if idx := strings.IndexAny(trimmed, "-+"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) < 3 {
		return v
	}

	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return v
	}

	v.Major = major
	v.Minor = minor
	v.Patch = patch
	return v
}

// IsDev reports whether this is a development build ("dev", "dev-abc123",
// or anything that didn't parse as a release version).
func (v Version) IsDev() bool {
	raw := strings.TrimSpace(v.Raw)
	if raw == "" || raw == "dev" || strings.HasPrefix(raw, "dev-") {
		return true
	}
	// A version that failed to parse is treated as dev so we never
	// nag users of local builds about "updates"
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0 && !isZeroRelease(raw)
}

// isZeroRelease reports whether raw is a literal 0.0.0 release tag.
func isZeroRelease(raw string) bool {
	trimmed := strings.TrimPrefix(raw, "v")
	return trimmed == "0.0.0"
}

// IsOlderThan reports whether v is strictly older than other.
func (v Version) IsOlderThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}
