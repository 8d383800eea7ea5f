package track

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

// VersionChecker validates hook shim versions against configured semver
// constraints. The check is advisory: an outdated shim logs a warning and
// keeps tracking.
type VersionChecker struct {
	constraints map[string]*semver.Constraints
}

// NewVersionChecker compiles the configured constraints. Invalid constraints
// were already rejected by config validation, so a compile failure here is
// reported per tool.
func NewVersionChecker(minVersions map[string]string) (*VersionChecker, error) {
	constraints := make(map[string]*semver.Constraints, len(minVersions))
	for tool, raw := range minVersions {
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return nil, fmt.Errorf("compile constraint for %s: %w", tool, err)
		}
		constraints[tool] = c
	}
	return &VersionChecker{constraints: constraints}, nil
}

// Check reports whether the reported shim version satisfies the tool's
// constraint. Tools without a constraint, or shims that report no version,
// always pass.
func (vc *VersionChecker) Check(tool, version string) (bool, error) {
	if vc == nil || version == "" {
		return true, nil
	}
	constraint, ok := vc.constraints[tool]
	if !ok {
		return true, nil
	}

	parsed, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse shim version %q for %s: %w", version, tool, err)
	}

	return constraint.Check(parsed), nil
}
