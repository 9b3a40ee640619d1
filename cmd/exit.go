package main

import (
	"errors"
	"fmt"

	"github.com/sells-group/replcheck/internal/latency"
	"github.com/sells-group/replcheck/internal/reconcile"
)

// Exit codes. 1 is reserved for usage and configuration errors so CI can
// tell a broken invocation from a broken pipeline.
const (
	exitOK        = 0
	exitUsage     = 1
	exitIntegrity = 2
	exitInfra     = 3
)

// statusError carries a check outcome to the process exit code.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// exitCode maps an Execute error to the process exit code.
func exitCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return exitUsage
}

// outcomeError converts a batch of completed runs to the command's terminal
// error. Errored runs dominate failed ones: infrastructure trouble means the
// verdict is unknown, not that the data diverged.
func outcomeError(runs []*reconcile.Run) error {
	var failed, errored int
	for _, r := range runs {
		switch r.Status {
		case reconcile.StatusFailed:
			failed++
		case reconcile.StatusErrored:
			errored++
		}
	}
	return outcomeFromCounts(failed, errored)
}

func outcomeFromCounts(failed, errored int) error {
	if errored > 0 {
		return &statusError{code: exitInfra, msg: fmt.Sprintf("%d run(s) errored", errored)}
	}
	if failed > 0 {
		return &statusError{code: exitIntegrity, msg: fmt.Sprintf("%d run(s) failed", failed)}
	}
	return nil
}

// latencyOutcome converts a measurement report to the command's terminal
// error. Errored probes mean the measurement itself broke, which dominates
// the lag verdict for the same reason errored runs dominate failed ones.
func latencyOutcome(rep *latency.Report) error {
	if rep.Errored > 0 {
		return &statusError{code: exitInfra, msg: fmt.Sprintf("%d probe(s) errored", rep.Errored)}
	}
	if rep.Resolved == 0 && rep.Unresolved == 0 {
		return &statusError{code: exitInfra, msg: "no probes produced a sample"}
	}
	if rep.MaxLagExceeded {
		return &statusError{code: exitIntegrity, msg: "replication lag bound exceeded"}
	}
	return nil
}
