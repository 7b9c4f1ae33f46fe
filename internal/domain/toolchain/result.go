package toolchain

import "fmt"

// Stage names the pipeline step a commit failed at.
type Stage string

const (
	// StageResolve covers latest-commit lookup and channel detection.
	StageResolve Stage = "resolve"
	// StageLocate covers archive URL construction.
	StageLocate Stage = "locate"
	// StageFetch covers downloading component archives.
	StageFetch Stage = "fetch"
	// StageInstall covers unpacking archives into the toolchain directory.
	StageInstall Stage = "install"
)

// InstallResult is the per-commit outcome reported by the orchestrator.
type InstallResult struct {
	// Commit is the build the result belongs to. For a failed latest-commit
	// lookup it may still be empty.
	Commit Commit
	// Dest is the toolchain directory name the commit was installed to.
	Dest string
	// Skipped is true when the toolchain was already installed and left untouched.
	Skipped bool
	// Stage is the failing stage, empty on success.
	Stage Stage
	// Err is the underlying cause, nil on success.
	Err error
}

// Failed reports whether the commit failed at any stage.
func (r InstallResult) Failed() bool {
	return r.Err != nil
}

// String renders the result for logs.
func (r InstallResult) String() string {
	switch {
	case r.Failed():
		return fmt.Sprintf("toolchain `%s` failed at %s stage: %v", r.Commit, r.Stage, r.Err)
	case r.Skipped:
		return fmt.Sprintf("toolchain `%s` is already installed", r.Dest)
	default:
		return fmt.Sprintf("toolchain `%s` is successfully installed", r.Dest)
	}
}
