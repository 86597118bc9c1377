package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"voice-summarizer/internal/config"
)

const systemPrompt = "You produce structured meeting notes. Follow the template exactly."

// Client produces structured summaries through the Bedrock Converse API.
type Client struct {
	api     *bedrockruntime.Client
	modelID string
}

// New builds a Bedrock client from config.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		api:     bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
	}, nil
}

// Summarize sends the transcript and notes to the model. The returned text
// may be empty; the caller substitutes a placeholder in that case.
func (c *Client) Summarize(ctx context.Context, transcript, notes string) (string, error) {
	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: BuildPrompt(transcript, notes)},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(1024),
			Temperature: aws.Float32(0.2),
		},
	})
	if err != nil {
		return "", fmt.Errorf("converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", nil
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// BuildPrompt assembles the summarization prompt around the fixed section
// template the result must conform to.
func BuildPrompt(transcript, notes string) string {
	if notes == "" {
		notes = "(none)"
	}
	return `
You are a meeting summarizer. Use the transcript and notes to produce a concise summary in the exact template below.
Do not add any extra sections or commentary.

Template:
# Voice Note — <DATE TIME>

## Title - <TITLE>

## Summary

- <SUMMARY_TEXT>

## Key Points

- <KEY_POINT>
- <KEY_POINT>

## Tasks

- [ ] <TASK_ITEM>
- [ ] <TASK_ITEM>

## Reminders

- <REMINDER_ITEM>

## Follow up Questions

- <QUESTION_ITEM>

Notes:
` + notes + `

Transcript:
` + transcript + "\n"
}
