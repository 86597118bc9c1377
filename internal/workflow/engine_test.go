package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-summarizer/internal/config"
	"voice-summarizer/internal/models"
	"voice-summarizer/internal/store"
	"voice-summarizer/internal/transcribe"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	progress map[string][]int
}

func newMemStore(jobs ...models.Job) *memStore {
	s := &memStore{jobs: map[string]*models.Job{}, progress: map[string][]int{}}
	for _, j := range jobs {
		job := j
		s.jobs[j.ID] = &job
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return *job, nil
}

func (s *memStore) SetStatus(_ context.Context, id, status string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.Progress = progress
	s.progress[id] = append(s.progress[id], progress)
	return nil
}

func (s *memStore) MarkSucceeded(_ context.Context, id, resultMarkdown string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = models.StatusSucceeded
	job.Progress = 100
	job.ResultMarkdown = &resultMarkdown
	job.Message = nil
	s.progress[id] = append(s.progress[id], 100)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = models.StatusFailed
	job.Progress = 100
	job.Message = &message
	job.ResultMarkdown = nil
	s.progress[id] = append(s.progress[id], 100)
	return nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(key string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = body
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return body, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Deleting an absent key succeeds, matching S3 semantics.
	delete(b.objects, key)
	b.deletes++
	return nil
}

func (b *memBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type fakeTranscriber struct {
	mu      sync.Mutex
	submits int
	polls   int
	script  []transcribe.PollResult
}

func (f *fakeTranscriber) Submit(_ context.Context, jobID, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return transcribe.JobName(jobID), nil
}

func (f *fakeTranscriber) Poll(_ context.Context, _ string) (transcribe.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i], nil
}

type fakeSummarizer struct {
	out   string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.out, f.err
}

func testJob() models.Job {
	return models.Job{
		ID:            "job-under-test",
		Status:        models.StatusQueued,
		Progress:      5,
		AudioKey:      "uploads/abc-voice.m4a",
		TranscriptKey: "jobs/job-under-test/transcript.json",
	}
}

func testConfig() config.Config {
	return config.Config{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
		MaxInputChars:   24000,
	}
}

func transcriptDoc(text string) []byte {
	return []byte(fmt.Sprintf(`{"results":{"transcripts":[{"transcript":%q}]}}`, text))
}

func TestEngineSuccess(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	blobs.Put(job.TranscriptKey, transcriptDoc("Discussed Q3 roadmap."))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusCompleted}}}
	sum := &fakeSummarizer{out: "# Voice Note — now\n\n## Summary\n\n- Q3 roadmap discussed."}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", got.Status)
	}
	if got.ResultMarkdown == nil || !strings.Contains(*got.ResultMarkdown, "## Summary") {
		t.Fatalf("expected result markdown with a Summary section, got %v", got.ResultMarkdown)
	}
	if got.Message != nil {
		t.Fatalf("terminal success must not carry a message, got %q", *got.Message)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected cleanup to remove all artifacts, %d left", blobs.Len())
	}
	if tr.submits != 1 {
		t.Fatalf("expected one transcription submit, got %d", tr.submits)
	}

	last := -1
	for _, p := range st.progress[job.ID] {
		if p < last {
			t.Fatalf("progress decreased: %v", st.progress[job.ID])
		}
		last = p
	}
}

func TestEngineExternalFailure(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	tr := &fakeTranscriber{script: []transcribe.PollResult{
		{Status: transcribe.StatusFailed, FailureReason: "Unsupported audio codec"},
	}}
	sum := &fakeSummarizer{}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Message == nil || *got.Message != "Unsupported audio codec" {
		t.Fatalf("expected external failure reason, got %v", got.Message)
	}
	if got.ResultMarkdown != nil {
		t.Fatalf("terminal failure must not carry a result")
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected cleanup after failure, %d artifacts left", blobs.Len())
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer must not run after transcription failure")
	}
}

func TestEngineTimeout(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusInProgress}}}
	sum := &fakeSummarizer{}

	cfg := testConfig()
	cfg.MaxPollAttempts = 3
	engine := NewEngine(st, blobs, tr, sum, cfg)
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Message == nil || *got.Message != TimeoutMessage {
		t.Fatalf("expected timeout message, got %v", got.Message)
	}
	if tr.polls != 3 {
		t.Fatalf("expected exactly 3 polls at the attempt ceiling, got %d", tr.polls)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected cleanup after timeout")
	}
}

func TestEngineEmptyTranscript(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	blobs.Put(job.TranscriptKey, transcriptDoc("   \n\t"))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusCompleted}}}
	sum := &fakeSummarizer{}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Message == nil || *got.Message != EmptyTranscriptMessage {
		t.Fatalf("expected empty transcript message, got %v", got.Message)
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer must not be called for an empty transcript")
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected cleanup after empty transcript failure")
	}
}

func TestEngineFallbackResult(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	blobs.Put(job.TranscriptKey, transcriptDoc("Short note."))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusCompleted}}}
	sum := &fakeSummarizer{out: ""}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", got.Status)
	}
	if got.ResultMarkdown == nil || *got.ResultMarkdown == "" {
		t.Fatalf("expected non-empty fallback result")
	}
	for _, section := range []string{"# Voice Note —", "## Summary", "## Tasks", "## Follow up Questions"} {
		if !strings.Contains(*got.ResultMarkdown, section) {
			t.Fatalf("fallback missing section %q", section)
		}
	}
}

func TestEngineSummarizerError(t *testing.T) {
	job := testJob()
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	blobs.Put(job.TranscriptKey, transcriptDoc("Something to summarize."))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusCompleted}}}
	sum := &fakeSummarizer{err: errors.New("model unavailable")}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Message == nil || *got.Message != "model unavailable" {
		t.Fatalf("expected error detail recorded, got %v", got.Message)
	}
	if blobs.Len() != 0 {
		t.Fatalf("expected cleanup after summarizer failure")
	}
}

func TestEngineResumeSkipsSubmit(t *testing.T) {
	job := testJob()
	job.Status = models.StatusTranscribing
	job.Progress = 25
	st := newMemStore(job)
	blobs := newMemBlobs()
	blobs.Put(job.AudioKey, []byte("audio"))
	blobs.Put(job.TranscriptKey, transcriptDoc("Resumed and finished."))
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusCompleted}}}
	sum := &fakeSummarizer{out: "## Summary\n\n- done"}

	engine := NewEngine(st, blobs, tr, sum, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if tr.submits != 0 {
		t.Fatalf("resumed execution must not resubmit, got %d submits", tr.submits)
	}
	got, _ := st.GetJob(context.Background(), job.ID)
	if got.Status != models.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED after resume, got %s", got.Status)
	}
}

// A record persisted mid-summarization (crash after the SUMMARIZING or
// FORMATTING checkpoint, before the result write) must still reach a
// terminal state when the queue redelivers it.
func TestEngineResumeMidSummarization(t *testing.T) {
	for _, tc := range []struct {
		status   string
		progress int
	}{
		{models.StatusSummarizing, 60},
		{models.StatusFormatting, 85},
	} {
		job := testJob()
		job.Status = tc.status
		job.Progress = tc.progress
		st := newMemStore(job)
		blobs := newMemBlobs()
		blobs.Put(job.AudioKey, []byte("audio"))
		blobs.Put(job.TranscriptKey, transcriptDoc("Picked up after a restart."))
		tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusInProgress}}}
		sum := &fakeSummarizer{out: "## Summary\n\n- recovered"}

		engine := NewEngine(st, blobs, tr, sum, testConfig())
		if err := engine.Run(context.Background(), job.ID); err != nil {
			t.Fatalf("resume from %s: %v", tc.status, err)
		}

		got, _ := st.GetJob(context.Background(), job.ID)
		if got.Status != models.StatusSucceeded {
			t.Fatalf("resume from %s: expected SUCCEEDED, got %s", tc.status, got.Status)
		}
		if got.ResultMarkdown == nil || *got.ResultMarkdown == "" {
			t.Fatalf("resume from %s: expected a result", tc.status)
		}
		if tr.submits != 0 || tr.polls != 0 {
			t.Fatalf("resume from %s: must not re-enter the polling phase", tc.status)
		}
		if sum.calls != 1 {
			t.Fatalf("resume from %s: expected summarization to be redone once, got %d", tc.status, sum.calls)
		}
		if blobs.Len() != 0 {
			t.Fatalf("resume from %s: expected cleanup, %d artifacts left", tc.status, blobs.Len())
		}
	}
}

func TestEngineTerminalJobIsNoop(t *testing.T) {
	job := testJob()
	job.Status = models.StatusSucceeded
	result := "done"
	job.ResultMarkdown = &result
	st := newMemStore(job)
	blobs := newMemBlobs()
	tr := &fakeTranscriber{script: []transcribe.PollResult{{Status: transcribe.StatusInProgress}}}

	engine := NewEngine(st, blobs, tr, &fakeSummarizer{}, testConfig())
	if err := engine.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run on terminal job: %v", err)
	}
	if tr.submits != 0 || tr.polls != 0 {
		t.Fatalf("terminal job must not touch the transcriber")
	}
	if blobs.deletes != 0 {
		t.Fatalf("terminal job must not re-run cleanup")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	blobs := newMemBlobs()
	blobs.Put("a", []byte("x"))

	// Deleting present and absent keys both succeed.
	if err := blobs.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("delete present: %v", err)
	}
	if err := blobs.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}

	ex := &execution{job: models.Job{ID: "j", AudioKey: "a", TranscriptKey: "b"}}
	engine := NewEngine(newMemStore(), blobs, &fakeTranscriber{script: []transcribe.PollResult{{}}}, &fakeSummarizer{}, testConfig())
	before := blobs.deletes
	engine.cleanup(context.Background(), ex)
	engine.cleanup(context.Background(), ex)
	if blobs.deletes != before+2 {
		t.Fatalf("cleanup must run exactly once per execution, got %d extra deletes", blobs.deletes-before)
	}
}
