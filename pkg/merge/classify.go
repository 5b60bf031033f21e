// Package merge implements the trunk-integration sequence: fast
// forward, merge the task branch, and on conflict run layered,
// path-pattern-driven resolution before pushing or escalating.
package merge

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Level is a conflict file's resolution tier. Level3 (escalate) wins
// over Level1/Level2 when a path matches patterns from more than one
// tier, since sensitive paths must never be auto-edited.
type Level int

const (
	LevelAuto Level = iota
	LevelAIAssisted
	LevelEscalate
)

// ClassifyPolicy holds the glob lists driving layered resolution.
type ClassifyPolicy struct {
	LockfilePatterns   []string
	SensitivePathGlobs []string
}

// Classify returns the resolution level for a conflicting file path.
// The most specific rule wins: escalate beats auto.
func Classify(policy ClassifyPolicy, path string) Level {
	if matchesAny(policy.SensitivePathGlobs, path) {
		return LevelEscalate
	}
	if matchesAny(policy.LockfilePatterns, path) {
		return LevelAuto
	}
	return LevelAIAssisted
}

func matchesAny(patterns []string, path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, normalized); ok {
			return true
		}
		// Lockfile patterns are often bare basenames (e.g. "go.sum")
		// rather than globs; match on the final path segment too.
		if !strings.ContainsAny(p, "*?[") {
			if base := basename(normalized); base == p {
				return true
			}
		}
	}
	return false
}

func basename(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// severityFor maps a classification level to a conflict record's
// reported severity.
func severityFor(level Level) types.ConflictSeverity {
	switch level {
	case LevelAuto:
		return types.SeverityLow
	case LevelAIAssisted:
		return types.SeverityMedium
	default:
		return types.SeverityHigh
	}
}
