package ciwatch

import "errors"

// ErrBadReference is returned when a PR URL cannot be split into repo and number.
var ErrBadReference = errors.New("unrecognized pull request reference")

// Outcome is the watcher's classification of one PR.
type Outcome string

const (
	Pending  Outcome = "pending"
	Passed   Outcome = "passed"
	Closed   Outcome = "closed"
	TimedOut Outcome = "timed_out"
)

// Terminal reports whether o admits no further transitions.
func (o Outcome) Terminal() bool { return o != Pending }

// Check is one CI check on a PR.
type Check struct {
	Name       string
	Status     string
	Conclusion string
}

// PRStatus is a snapshot of a PR fetched on one poll.
type PRStatus struct {
	State      string
	ChecksPass bool
	Mergeable  bool
	MergeState string
	NumChecks  int
	PendingNum int
	Checks     []Check
}

var passingConclusions = map[string]bool{
	"SUCCESS": true,
	"NEUTRAL": true,
	"SKIPPED": true,
}

// Evaluate reports whether checks are all complete and passing. An empty
// set of checks never passes.
func Evaluate(checks []Check) (pass bool, pending int) {
	pass = len(checks) > 0
	for _, c := range checks {
		if c.Status != "COMPLETED" {
			pending++
			pass = false
			continue
		}
		if !passingConclusions[c.Conclusion] {
			pass = false
		}
	}
	return pass, pending
}

// NewPRStatus derives the summary fields from raw provider data.
func NewPRStatus(state, mergeable, mergeState string, checks []Check) PRStatus {
	pass, pending := Evaluate(checks)
	return PRStatus{
		State:      state,
		ChecksPass: pass,
		Mergeable:  mergeable == "MERGEABLE",
		MergeState: mergeState,
		NumChecks:  len(checks),
		PendingNum: pending,
		Checks:     checks,
	}
}

// Classify maps a fetched status onto the next outcome. Closed wins over checks.
func Classify(st PRStatus) Outcome {
	switch {
	case st.State == "CLOSED":
		return Closed
	case st.ChecksPass:
		return Passed
	default:
		return Pending
	}
}
