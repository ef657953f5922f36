package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion represents a semantic version for config schemas
type SchemaVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a version string like "1.0" or "2.1"
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return SchemaVersion{Major: 1, Minor: 0}, nil
	}

	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return SchemaVersion{}, fmt.Errorf("invalid version format: %s (expected X.Y)", s)
	}

	maj, err := strconv.Atoi(major)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid major version: %s", major)
	}
	minr, err := strconv.Atoi(minor)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid minor version: %s", minor)
	}

	return SchemaVersion{Major: maj, Minor: minr}, nil
}

// String returns the version as "X.Y"
func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsCompatible checks if this version can be read by a reader for targetVersion.
// Minor version increases are backward compatible, major version changes are not.
func (v SchemaVersion) IsCompatible(targetVersion SchemaVersion) bool {
	return v.Major == targetVersion.Major && v.Minor <= targetVersion.Minor
}

// SupportedVersions lists all schema versions we can read
var SupportedVersions = []SchemaVersion{
	{Major: 1, Minor: 0},
}

// IsSupportedVersion reports whether a config of version v can be read.
func IsSupportedVersion(v SchemaVersion) bool {
	for _, s := range SupportedVersions {
		if v.IsCompatible(s) {
			return true
		}
	}
	return false
}
