package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DevVersion is the version reported by unreleased builds. It satisfies
// every constraint.
const DevVersion = "dev"

// CheckCompat reports whether hostVersion satisfies the semver constraint
// a plugin requires. An empty constraint accepts any host.
func CheckCompat(hostVersion, constraint string) error {
	if constraint == "" || hostVersion == DevVersion {
		return nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parsing constraint %q: %w", constraint, err)
	}
	v, err := parseSemver(hostVersion)
	if err != nil {
		return fmt.Errorf("parsing host version %q: %w", hostVersion, err)
	}

	if ok, errs := c.Validate(v); !ok {
		return fmt.Errorf("host version %s does not satisfy %q: %w", v, constraint, errors.Join(errs...))
	}
	return nil
}

// parseSemver strips a leading "v" and parses the version string.
func parseSemver(version string) (*semver.Version, error) {
	version = strings.TrimPrefix(version, "v")
	return semver.NewVersion(version)
}
