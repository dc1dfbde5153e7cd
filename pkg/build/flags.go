// SPDX-License-Identifier: MIT

// Package build holds the version information linked into the mediarec
// binary with -ldflags. Development builds fall back to "dev".
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown by --help.
const Description = "Record audio input into chunked media sessions"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the flags for --version output.
func (f *ldFlags) String() string {
	commit := f.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, commit, f.Time)
}

// Set with -ldflags "-X mediarec/pkg/build.buildVersion=..." and friends.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "mediarec",
		Description: Description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
)

// Initialize copies the linker variables into the build flags. It reports
// every missing variable and keeps the development defaults in that case.
func Initialize() error {
	var errs []error
	if buildName == "" {
		errs = append(errs, errors.New("BuildName is required"))
	}
	if buildTime == "" {
		errs = append(errs, errors.New("BuildTime is required"))
	}
	if buildCommit == "" {
		errs = append(errs, errors.New("BuildCommit is required"))
	}
	if buildVersion == "" {
		errs = append(errs, errors.New("BuildVersion is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
