package transcribe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"voice-summarizer/internal/config"
)

// Poll statuses reported to the workflow engine.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// PollResult is one observation of an external transcription job.
type PollResult struct {
	Status        string
	FailureReason string
}

// Client submits transcription requests to AWS Transcribe and polls them.
// Job names are derived from the job id, so a resumed execution polls the
// same external job it submitted before.
type Client struct {
	api      *awstranscribe.Client
	bucket   string
	language string
}

// New builds a Transcribe client from config.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		api:      awstranscribe.NewFromConfig(awsCfg),
		bucket:   cfg.AudioBucket,
		language: cfg.TranscribeLanguage,
	}, nil
}

// JobName maps a job id to its transcription job handle.
func JobName(jobID string) string {
	return "job-" + jobID
}

// Submit starts a transcription of audioKey, writing the result document to
// transcriptKey in the same bucket. Returns the job handle.
func (c *Client) Submit(ctx context.Context, jobID, audioKey, transcriptKey string) (string, error) {
	name := JobName(jobID)
	_, err := c.api.StartTranscriptionJob(ctx, &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
		LanguageCode:         types.LanguageCode(c.language),
		Media: &types.Media{
			MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", c.bucket, audioKey)),
		},
		OutputBucketName: aws.String(c.bucket),
		OutputKey:        aws.String(transcriptKey),
	})
	if err != nil {
		return "", fmt.Errorf("start transcription job: %w", err)
	}
	return name, nil
}

// Poll reports the current status of a previously submitted job.
func (c *Client) Poll(ctx context.Context, handle string) (PollResult, error) {
	out, err := c.api.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(handle),
	})
	if err != nil {
		return PollResult{}, fmt.Errorf("get transcription job: %w", err)
	}
	job := out.TranscriptionJob
	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		return PollResult{Status: StatusCompleted}, nil
	case types.TranscriptionJobStatusFailed:
		return PollResult{Status: StatusFailed, FailureReason: aws.ToString(job.FailureReason)}, nil
	default:
		// QUEUED and IN_PROGRESS both mean keep waiting.
		return PollResult{Status: StatusInProgress}, nil
	}
}

type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ExtractText pulls the transcript text out of the Transcribe output
// document. A document with no transcripts yields "".
func ExtractText(doc []byte) (string, error) {
	var parsed transcriptDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return "", fmt.Errorf("parse transcript document: %w", err)
	}
	if len(parsed.Results.Transcripts) == 0 {
		return "", nil
	}
	return parsed.Results.Transcripts[0].Transcript, nil
}
