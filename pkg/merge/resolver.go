package merge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/log"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/types"
)

// AIResolution is the structured result an AI-assisted resolver
// returns for a batch of conflicting files.
type AIResolution struct {
	Resolved         []string
	Unresolved       []string
	NeedsHumanReview []string
}

// AIResolver invokes an external agent to edit conflicting files
// in-place, removing conflict markers while preserving both sides'
// intent.
type AIResolver interface {
	Resolve(ctx context.Context, repoRoot string, files []string) (AIResolution, error)
}

// Outcome summarizes one merge attempt.
type Outcome struct {
	TaskID           string
	Branch           string
	Clean            bool
	ChangedFiles     []string
	Pushed           bool
	UnresolvedFiles  []types.Conflict
	HumanReviewFiles []types.Conflict
}

// Resolver runs the merge-and-layered-resolution sequence against a
// single trunk checkout. All calls must be serialized by the caller
// (the orchestrator's single event loop) since the trunk is a
// single-writer resource.
type Resolver struct {
	trunkPath string
	policy    ClassifyPolicy
	ai        AIResolver
	timeout   time.Duration
}

// New constructs a Resolver operating on the trunk checkout at trunkPath.
func New(trunkPath string, policy ClassifyPolicy, ai AIResolver) *Resolver {
	return &Resolver{trunkPath: trunkPath, policy: policy, ai: ai, timeout: 60 * time.Second}
}

// Merge runs the full sequence for task taskID's branch: checkout
// trunk, pull, merge, and on conflict run layered resolution before
// pushing or recording the unresolved conflict set.
func (r *Resolver) Merge(ctx context.Context, taskID, branch, title string) (Outcome, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MergeDuration)

	if _, err := r.git(ctx, "checkout", "trunk"); err != nil {
		return Outcome{}, fmt.Errorf("merge: checkout trunk: %w", err)
	}
	if _, err := r.git(ctx, "pull"); err != nil {
		log.Errorf("merge: pull failed, continuing offline", err)
	}

	msg := fmt.Sprintf("Merge branch '%s': %s", branch, title)
	_, mergeErr := r.git(ctx, "merge", branch, "-m", msg)
	if mergeErr == nil {
		return r.finishClean(ctx, taskID, branch)
	}

	conflicted, err := r.conflictedFiles(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("merge: list conflicted files: %w", err)
	}

	outcome, err := r.resolveConflicts(ctx, taskID, branch, conflicted)
	if err != nil {
		return Outcome{}, err
	}

	if len(outcome.UnresolvedFiles) > 0 || len(outcome.HumanReviewFiles) > 0 {
		_, _ = r.git(ctx, "merge", "--abort")
		metrics.MergeOutcomesTotal.WithLabelValues("escalated").Inc()
		return outcome, nil
	}

	if _, err := r.git(ctx, "commit", "--no-edit"); err != nil {
		return Outcome{}, fmt.Errorf("merge: commit resolved merge: %w", err)
	}
	return r.finishClean(ctx, taskID, branch)
}

func (r *Resolver) finishClean(ctx context.Context, taskID, branch string) (Outcome, error) {
	changed, err := r.changedFiles(ctx, branch)
	if err != nil {
		log.Errorf("merge: could not summarize changed files", err)
	}

	pushed := true
	if _, err := r.git(ctx, "push", "origin", "trunk"); err != nil {
		log.Errorf("merge: push failed", err)
		pushed = false
	}
	_, _ = r.git(ctx, "branch", "-D", branch)

	metrics.MergeOutcomesTotal.WithLabelValues("auto").Inc()
	return Outcome{TaskID: taskID, Branch: branch, Clean: true, ChangedFiles: changed, Pushed: pushed}, nil
}

func (r *Resolver) resolveConflicts(ctx context.Context, taskID, branch string, files []string) (Outcome, error) {
	var autoFiles, aiFiles []string
	var humanReview []types.Conflict

	for _, f := range files {
		switch Classify(r.policy, f) {
		case LevelAuto:
			autoFiles = append(autoFiles, f)
		case LevelAIAssisted:
			aiFiles = append(aiFiles, f)
		case LevelEscalate:
			humanReview = append(humanReview, types.Conflict{
				TaskID:      taskID,
				Branch:      branch,
				File:        f,
				Type:        types.ConflictContent,
				Severity:    severityFor(LevelEscalate),
				Description: "path matches a sensitive-file pattern; requires human review",
			})
		}
	}

	for _, f := range autoFiles {
		if _, err := r.git(ctx, "checkout", "--theirs", f); err != nil {
			humanReview = append(humanReview, types.Conflict{
				TaskID: taskID, Branch: branch, File: f, Type: types.ConflictContent,
				Severity: types.SeverityHigh, Description: "auto-resolution (theirs) failed: " + err.Error(),
			})
			continue
		}
		if _, err := r.git(ctx, "add", f); err != nil {
			log.Errorf("merge: stage auto-resolved file failed", err)
		}
	}

	var unresolved []types.Conflict
	if len(aiFiles) > 0 {
		if r.ai == nil {
			for _, f := range aiFiles {
				unresolved = append(unresolved, types.Conflict{
					TaskID: taskID, Branch: branch, File: f, Type: types.ConflictContent,
					Severity: types.SeverityMedium, Description: "no AI resolver configured",
				})
			}
		} else {
			result, err := r.ai.Resolve(ctx, r.trunkPath, aiFiles)
			if err != nil {
				for _, f := range aiFiles {
					unresolved = append(unresolved, types.Conflict{
						TaskID: taskID, Branch: branch, File: f, Type: types.ConflictContent,
						Severity: types.SeverityMedium, Description: "AI resolver error: " + err.Error(),
					})
				}
			} else {
				for _, f := range result.Resolved {
					if _, err := r.git(ctx, "add", f); err != nil {
						log.Errorf("merge: stage AI-resolved file failed", err)
					}
				}
				for _, f := range result.Unresolved {
					unresolved = append(unresolved, types.Conflict{
						TaskID: taskID, Branch: branch, File: f, Type: types.ConflictContent,
						Severity: types.SeverityMedium, Description: "AI resolver left conflict markers",
					})
				}
				for _, f := range result.NeedsHumanReview {
					humanReview = append(humanReview, types.Conflict{
						TaskID: taskID, Branch: branch, File: f, Type: types.ConflictContent,
						Severity: types.SeverityHigh, Description: "AI resolver flagged for human review",
					})
				}
			}
		}
	}

	return Outcome{
		TaskID: taskID, Branch: branch,
		UnresolvedFiles:  unresolved,
		HumanReviewFiles: humanReview,
	}, nil
}

func (r *Resolver) conflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (r *Resolver) changedFiles(ctx context.Context, branch string) ([]string, error) {
	// Called after the merge commit: ORIG_HEAD is trunk as it was
	// before the merge, so this lists what the merge brought in.
	out, err := r.git(ctx, "diff", "--stat", "ORIG_HEAD..HEAD")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" || strings.Contains(line, "changed,") {
			continue
		}
		if i := strings.Index(line, "|"); i > 0 {
			files = append(files, strings.TrimSpace(line[:i]))
		}
	}
	return files, nil
}

func (r *Resolver) git(ctx context.Context, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = r.trunkPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %v: %w (stderr: %s)", args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
