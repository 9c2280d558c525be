package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// EngineVersion is the version reported by the CLI and the servers.
const EngineVersion = "0.2.0"

// SemVer is a parsed "major.minor.patch" version.
type SemVer struct {
	Major int
	Minor int
	Patch int
}

// ParseSemVer parses "major.minor.patch". Each component must be a
// non-negative integer.
func ParseSemVer(s string) (SemVer, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SemVer{}, fmt.Errorf("version %q: expected major.minor.patch", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p == "" {
			return SemVer{}, fmt.Errorf("version %q: component %q is not a non-negative integer", s, p)
		}
		nums[i] = n
	}
	return SemVer{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v SemVer) Compare(o SemVer) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// CompareVersions compares two version strings. Unparseable versions sort
// before parseable ones and compare lexically among themselves.
func CompareVersions(a, b string) int {
	va, errA := ParseSemVer(a)
	vb, errB := ParseSemVer(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	default:
		return 1
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
