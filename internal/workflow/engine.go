package workflow

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"voice-summarizer/internal/config"
	"voice-summarizer/internal/models"
	"voice-summarizer/internal/telemetry"
	"voice-summarizer/internal/transcribe"
)

// JobStore is the job record contract the engine persists through. Every
// write is a single-record field merge and re-applying a transition with
// the same values is safe.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	SetStatus(ctx context.Context, id, status string, progress int) error
	MarkSucceeded(ctx context.Context, id, resultMarkdown string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// BlobStore holds the job's transient artifacts.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Transcriber submits transcription requests and reports completion by
// polling.
type Transcriber interface {
	Submit(ctx context.Context, jobID, audioKey, transcriptKey string) (string, error)
	Poll(ctx context.Context, handle string) (transcribe.PollResult, error)
}

// Summarizer turns transcript text plus notes into one structured document.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, notes string) (string, error)
}

// Engine runs one workflow execution per job: it advances the persisted
// state machine, bounds the transcription wait, invokes summarization once,
// and cleans up blob artifacts exactly once on the terminal transition.
type Engine struct {
	store         JobStore
	blobs         BlobStore
	transcriber   Transcriber
	summarizer    Summarizer
	interval      time.Duration
	attemptLimit  int
	maxInputChars int
	now           func() time.Time
}

// NewEngine wires the engine with injected adapters. Poll interval, attempt
// ceiling, and the transcript character budget come from config.
func NewEngine(st JobStore, blobs BlobStore, tr Transcriber, sum Summarizer, cfg config.Config) *Engine {
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	limit := cfg.MaxPollAttempts
	if limit == 0 {
		limit = 60
	}
	maxChars := cfg.MaxInputChars
	if maxChars == 0 {
		maxChars = 24000
	}
	return &Engine{
		store:         st,
		blobs:         blobs,
		transcriber:   tr,
		summarizer:    sum,
		interval:      interval,
		attemptLimit:  limit,
		maxInputChars: maxChars,
		now:           time.Now,
	}
}

// execution is the ephemeral per-job context. It is owned by exactly one
// Run call and never shared.
type execution struct {
	job     models.Job
	status  string
	handle  string
	attempt int
	summary string
	result  string
	cleaned bool
}

// Run drives one job to a terminal state. A non-nil error means the
// execution could not make progress (store or context failure) and the job
// should be redelivered; terminal outcomes, including business failures,
// return nil.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if models.Terminal(job.Status) {
		return nil
	}

	telemetry.ActiveExecutions.Inc()
	defer telemetry.ActiveExecutions.Dec()

	ex := &execution{job: job, status: job.Status, handle: transcribe.JobName(job.ID)}

	dec, err := e.apply(ctx, ex, Event{Kind: EventStart})
	if err != nil {
		return err
	}

	for {
		switch dec.Action {
		case ActionSubmit:
			handle, err := e.transcriber.Submit(ctx, ex.job.ID, ex.job.AudioKey, ex.job.TranscriptKey)
			if err != nil {
				dec, err = e.fault(ctx, ex, err)
				if err != nil {
					return err
				}
				continue
			}
			ex.handle = handle
			dec.Action = ActionWait

		case ActionWait:
			if err := e.wait(ctx); err != nil {
				return err
			}
			res, pollErr := e.transcriber.Poll(ctx, ex.handle)
			telemetry.PollTicks.Inc()
			if pollErr != nil {
				dec, err = e.fault(ctx, ex, pollErr)
				if err != nil {
					return err
				}
				continue
			}
			ex.attempt++
			dec, err = e.apply(ctx, ex, Event{Kind: EventPoll, Poll: res, Attempt: ex.attempt})
			if err != nil {
				return err
			}

		case ActionSummarize:
			text, fetchErr := e.transcript(ctx, ex)
			if fetchErr != nil {
				dec, err = e.fault(ctx, ex, fetchErr)
				if err != nil {
					return err
				}
				continue
			}
			out, sumErr := e.summarizer.Summarize(ctx, text, ex.job.Notes)
			if sumErr != nil {
				dec, err = e.fault(ctx, ex, sumErr)
				if err != nil {
					return err
				}
				continue
			}
			ex.summary = out
			dec, err = e.apply(ctx, ex, Event{Kind: EventSummarized})
			if err != nil {
				return err
			}

		case ActionAssemble:
			ex.result = AssembleResult(ex.summary, e.now())
			dec, err = e.apply(ctx, ex, Event{Kind: EventAssembled})
			if err != nil {
				return err
			}

		case ActionComplete:
			e.cleanup(ctx, ex)
			telemetry.JobsSucceeded.Inc()
			return nil

		case ActionFail:
			e.cleanup(ctx, ex)
			if dec.Message == TimeoutMessage {
				telemetry.JobsTimedOut.Inc()
			} else {
				telemetry.JobsFailed.Inc()
			}
			return nil
		}
	}
}

// apply runs the pure transition and persists the resulting state before
// returning the decision to the loop.
func (e *Engine) apply(ctx context.Context, ex *execution, ev Event) (Decision, error) {
	dec, err := Transition(ex.status, ev, e.attemptLimit)
	if err != nil {
		return Decision{}, err
	}
	if dec.Status != "" && dec.Status != ex.status {
		switch dec.Status {
		case models.StatusSucceeded:
			err = e.store.MarkSucceeded(ctx, ex.job.ID, ex.result)
		case models.StatusFailed:
			err = e.store.MarkFailed(ctx, ex.job.ID, dec.Message)
		default:
			err = e.store.SetStatus(ctx, ex.job.ID, dec.Status, dec.Progress)
		}
		if err != nil {
			return Decision{}, err
		}
		ex.status = dec.Status
	}
	return dec, nil
}

// fault routes an unrecoverable error through the state machine so the
// terminal bookkeeping stays in one place.
func (e *Engine) fault(ctx context.Context, ex *execution, cause error) (Decision, error) {
	log.Printf("job %s: %v", ex.job.ID, cause)
	return e.apply(ctx, ex, Event{Kind: EventFault, Err: cause})
}

// wait suspends for one poll interval. The execution yields for the whole
// interval and resumes exactly once per tick.
func (e *Engine) wait(ctx context.Context) error {
	timer := time.NewTimer(e.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transcript fetches and parses the transcript artifact, applying the
// prefix-keep character budget. An empty transcript fails the job before
// any summarization call is made.
func (e *Engine) transcript(ctx context.Context, ex *execution) (string, error) {
	doc, err := e.blobs.Get(ctx, ex.job.TranscriptKey)
	if err != nil {
		return "", err
	}
	text, err := transcribe.ExtractText(doc)
	if err != nil {
		return "", err
	}
	text = TruncateChars(text, e.maxInputChars)
	if strings.TrimSpace(text) == "" {
		return "", errors.New(EmptyTranscriptMessage)
	}
	return text, nil
}

// cleanup deletes the job's blob artifacts. It runs exactly once per
// execution and deleting an already-absent key is not an error, so the
// operation is idempotent across redeliveries too.
func (e *Engine) cleanup(ctx context.Context, ex *execution) {
	if ex.cleaned {
		return
	}
	for _, key := range []string{ex.job.AudioKey, ex.job.TranscriptKey} {
		if key == "" {
			continue
		}
		if err := e.blobs.Delete(ctx, key); err != nil {
			log.Printf("job %s: cleanup %s: %v", ex.job.ID, key, err)
		}
	}
	ex.cleaned = true
}
