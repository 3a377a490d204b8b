package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckDirectory reports whether the working directory can be listed.
func CheckDirectory(path string) CheckFunc {
	return func(ctx context.Context) Check {
		entries, err := os.ReadDir(path)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("cannot read directory: %v", err)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d entries", len(entries))}
	}
}

// CheckParentDir reports whether the directory that holds path exists.
func CheckParentDir(path string) CheckFunc {
	return func(ctx context.Context) Check {
		dir := filepath.Dir(path)
		fi, err := os.Stat(dir)
		switch {
		case err != nil:
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("cannot stat %s: %v", dir, err)}
		case !fi.IsDir():
			return Check{Status: StatusUnhealthy, Message: dir + " is not a directory"}
		}
		return Check{Status: StatusHealthy, Message: dir}
	}
}

// RegenerationSource reports the latest regeneration pass. ok is false
// until the first pass has finished.
type RegenerationSource interface {
	LastRegeneration() (at time.Time, result string, ok bool)
}

// CheckRegeneration turns the latest pass into a check. A pass whose result
// is not okResult is unhealthy; no pass yet is degraded.
func CheckRegeneration(src RegenerationSource, okResult string) CheckFunc {
	return func(ctx context.Context) Check {
		at, result, ok := src.LastRegeneration()
		switch {
		case !ok:
			return Check{Status: StatusDegraded, Message: "no regeneration yet"}
		case result != okResult:
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("last pass at %s: %s", at.Format(time.RFC3339), result)}
		}
		return Check{Status: StatusHealthy, Message: "last pass at " + at.Format(time.RFC3339)}
	}
}
