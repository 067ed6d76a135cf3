package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"polychat/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Transcriber converts one audio attachment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio model.Attachment) (string, error)
}

func (r *Registry) transcribe(ctx context.Context, arguments string, env Env) (Result, error) {
	files, res, err := r.resolveFiles(ctx, model.ToolTranscribe, arguments, env)
	if files == nil {
		return res, err
	}
	if r.speech == nil {
		return Result{Text: "Error: No speech-to-text provider"}, nil
	}

	var parts []string
	for _, f := range files {
		if f.note != "" {
			parts = append(parts, f.note)
			continue
		}
		if f.att.Kind() != model.KindAudio {
			parts = append(parts, fmt.Sprintf("%s: not an audio file (%s)", f.name, f.att.MIMEType))
			continue
		}

		text, err := r.speech.Transcribe(ctx, f.att)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolTranscribe), fmt.Errorf("%s: %w", f.name, err))
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s", f.name, strings.TrimSpace(text)))
	}
	return Result{Text: strings.Join(parts, "\n\n")}, nil
}

// OpenAITranscriber uses an OpenAI-compatible audio transcription endpoint.
type OpenAITranscriber struct {
	client openai.Client
	model  string
}

// NewOpenAITranscriber creates a transcriber for the configured provider.
func NewOpenAITranscriber(opts SpeechOptions) *OpenAITranscriber {
	modelName := opts.Model
	if modelName == "" {
		modelName = opts.Provider.DefaultSTTModel
	}
	if modelName == "" {
		modelName = "whisper-1"
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.Provider.APIKey)}
	if opts.Provider.Host != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Provider.Host))
	}
	return &OpenAITranscriber{
		client: openai.NewClient(reqOpts...),
		model:  modelName,
	}
}

// Transcribe implements Transcriber.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio model.Attachment) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	_, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Data), audio.Name, audio.MIMEType),
		Model: openai.AudioModel(t.model),
	}, option.WithResponseBodyInto(&out))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("transcription rejected (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return "", err
	}
	return out.Text, nil
}
