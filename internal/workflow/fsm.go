package workflow

import (
	"fmt"

	"voice-summarizer/internal/models"
	"voice-summarizer/internal/transcribe"
)

// Failure messages recorded on deterministic terminal branches.
const (
	TimeoutMessage         = "Transcription timed out"
	EmptyTranscriptMessage = "Transcript was empty"
)

// EventKind identifies what happened to an execution.
type EventKind int

const (
	// EventStart fires when an execution begins (or resumes) for a job.
	EventStart EventKind = iota
	// EventPoll carries one observation of the external transcription job.
	EventPoll
	// EventSummarized fires when the summarizer returned.
	EventSummarized
	// EventAssembled fires when the final markdown has been assembled.
	EventAssembled
	// EventFault carries an unrecoverable error from any non-terminal state.
	EventFault
)

// Event is the input to one state transition.
type Event struct {
	Kind    EventKind
	Poll    transcribe.PollResult
	Attempt int // polls observed so far, including this one
	Err     error
}

// Action tells the engine what to do after persisting a transition.
type Action int

const (
	// ActionSubmit submits the transcription request, then starts polling.
	ActionSubmit Action = iota
	// ActionWait suspends for one poll interval and polls again.
	ActionWait
	// ActionSummarize fetches the transcript and calls the summarizer.
	ActionSummarize
	// ActionAssemble builds the final markdown document.
	ActionAssemble
	// ActionComplete records success and runs cleanup.
	ActionComplete
	// ActionFail records failure and runs cleanup.
	ActionFail
)

// Decision is the output of one state transition. An empty Status leaves
// the persisted record untouched (the wait loop does not rewrite state on
// every tick).
type Decision struct {
	Status   string
	Progress int
	Action   Action
	Message  string // failure reason when Action == ActionFail
}

// Transition is the pure state machine: given the persisted status and an
// event it produces the next status and the engine's next action. Progress
// checkpoints are fixed per state so re-applying a transition writes the
// same values, and the status graph only moves forward.
func Transition(status string, ev Event, attemptLimit int) (Decision, error) {
	if models.Terminal(status) {
		return Decision{}, fmt.Errorf("no transitions from terminal status %s", status)
	}

	switch ev.Kind {
	case EventStart:
		switch status {
		case models.StatusQueued:
			return Decision{Status: models.StatusTranscribing, Progress: 25, Action: ActionSubmit}, nil
		case models.StatusTranscribing:
			// Resumed execution: the transcription job already exists,
			// go straight back to polling.
			return Decision{Action: ActionWait}, nil
		case models.StatusSummarizing, models.StatusFormatting:
			// Resumed after the transcript completed but before the result
			// was persisted; redo summarization from the stored transcript.
			return Decision{Action: ActionSummarize}, nil
		}

	case EventPoll:
		if status != models.StatusTranscribing {
			break
		}
		switch ev.Poll.Status {
		case transcribe.StatusCompleted:
			return Decision{Status: models.StatusSummarizing, Progress: 60, Action: ActionSummarize}, nil
		case transcribe.StatusFailed:
			reason := ev.Poll.FailureReason
			if reason == "" {
				reason = "Transcription failed"
			}
			return Decision{Status: models.StatusFailed, Progress: 100, Action: ActionFail, Message: reason}, nil
		case transcribe.StatusInProgress:
			if ev.Attempt >= attemptLimit {
				return Decision{Status: models.StatusFailed, Progress: 100, Action: ActionFail, Message: TimeoutMessage}, nil
			}
			return Decision{Action: ActionWait}, nil
		}

	case EventSummarized:
		switch status {
		case models.StatusSummarizing:
			return Decision{Status: models.StatusFormatting, Progress: 85, Action: ActionAssemble}, nil
		case models.StatusFormatting:
			// Resumed execution that redid summarization from a persisted
			// FORMATTING record; the checkpoint is already written.
			return Decision{Action: ActionAssemble}, nil
		}

	case EventAssembled:
		if status == models.StatusFormatting {
			return Decision{Status: models.StatusSucceeded, Progress: 100, Action: ActionComplete}, nil
		}

	case EventFault:
		msg := "Unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return Decision{Status: models.StatusFailed, Progress: 100, Action: ActionFail, Message: msg}, nil
	}

	return Decision{}, fmt.Errorf("invalid event %d in status %s", ev.Kind, status)
}
