package session

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/model"
)

const (
	patchFileName   = "patch.diff"
	appliedPattern  = "applied-*.diff"
	resultFileName  = "result.json"
	metricsFileName = "metrics.json"
)

// Phase names recorded in metrics.json.
const (
	PhaseSubmit   = "submit"
	PhaseWait     = "wait"
	PhaseExtract  = "extract"
	PhaseValidate = "validate"
	PhaseApply    = "apply"
	PhaseCommit   = "commit"
)

type artifacts struct {
	dir     string
	metrics model.Metrics
}

func newArtifacts(root, sessionID string) (*artifacts, error) {
	dir, err := fs.SessionDir(root, sessionID)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving session directory: %w", err)
	}
	return &artifacts{dir: abs, metrics: model.Metrics{SessionID: sessionID, Phases: []model.PhaseTiming{}}}, nil
}

func (a *artifacts) phase(attempt int, name string, start, end time.Time) {
	a.metrics.Phases = append(a.metrics.Phases, model.PhaseTiming{
		Attempt:     attempt,
		Phase:       name,
		StartedAt:   start,
		CompletedAt: end,
	})
}

func (a *artifacts) writePatch(diff string) (string, error) {
	path := filepath.Join(a.dir, patchFileName)
	if err := fs.WriteFile(path, []byte(diff)); err != nil {
		return "", err
	}
	return path, nil
}

// keepApplied stores the patch applied in one round, so that a session
// spanning several rounds can be undone round by round.
func (a *artifacts) keepApplied(attempt int, diff string) error {
	return fs.WriteFile(filepath.Join(a.dir, fmt.Sprintf("applied-%03d.diff", attempt)), []byte(diff))
}

// AppliedPatches lists the per-round patches applied in the session whose
// artifacts live in dir, oldest first.
func AppliedPatches(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, appliedPattern))
	if err != nil {
		return nil, fmt.Errorf("listing applied patches: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (a *artifacts) writeResult(res *model.Result) error {
	if err := writeJSON(filepath.Join(a.dir, resultFileName), res); err != nil {
		return err
	}
	return writeJSON(filepath.Join(a.dir, metricsFileName), a.metrics)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return fs.WriteFile(path, append(data, '\n'))
}
