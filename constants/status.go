package constants

// JobStatus is the canonical status for rows in document_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusSubmitted  JobStatus = "SUBMITTED"  // created by the submission step, waiting on the external processor
	JobStatusProcessing JobStatus = "PROCESSING" // external processor acknowledged the job
	JobStatusCompleted  JobStatus = "COMPLETED"  // terminal success (extracted content persisted)
	JobStatusFailed     JobStatus = "FAILED"     // terminal failure
)

var statusRank = map[JobStatus]int{
	JobStatusSubmitted:  0,
	JobStatusProcessing: 1,
	JobStatusCompleted:  2,
	JobStatusFailed:     2,
}

// CanTransition reports whether moving from -> to is a legal forward
// transition. Statuses only move forward; nothing reverts out of a
// terminal state.
func CanTransition(from, to JobStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == JobStatusCompleted || from == JobStatusFailed {
		return false
	}
	return tr > fr
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
