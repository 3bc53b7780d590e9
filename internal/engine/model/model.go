// Package model implements the engine interface on top of remote speech and
// language models: audio chunks go to the OpenAI transcription API, and the
// summary stage runs on any chat model reachable through
// github.com/mozilla-ai/any-llm-go (OpenAI, Anthropic, Gemini, Ollama,
// DeepSeek, Mistral, Groq, llama.cpp, llamafile).
//
// All remote calls pass through a circuit breaker so a degraded vendor API
// fails fast instead of stalling the audio pipeline.
package model

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/meetwren/wren/internal/domain"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/internal/resilience"
	"github.com/meetwren/wren/pkg/platform"
)

// Name is the registry name of this engine.
const Name = "model"

// DefaultChunkConfidence is reported for transcribed chunks when the
// transcription API returns no per-chunk score of its own.
const DefaultChunkConfidence = 0.85

// Config configures the model engine.
type Config struct {
	// SpeechAPIKey authenticates against the OpenAI transcription API.
	SpeechAPIKey string

	// SpeechBaseURL overrides the transcription API base URL. Optional.
	SpeechBaseURL string

	// LLMProvider is one of: "openai", "anthropic", "gemini", "ollama",
	// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
	LLMProvider string

	// LLMModel is the chat model used for the summary stage
	// (e.g. "gpt-4o", "claude-3-5-sonnet-latest").
	LLMModel string

	// LLMAPIKey authenticates the chat provider. Falls back to the
	// provider's environment variable when empty.
	LLMAPIKey string

	// Language is the expected meeting language as a BCP-47 tag.
	// Default: "en".
	Language string

	// ChunkConfidence overrides DefaultChunkConfidence. Optional.
	ChunkConfidence float64

	// SpeakerTolerance tunes the voiceprint clustering distance. Optional.
	SpeakerTolerance float64
}

// Engine implements engine.Engine against remote model APIs.
type Engine struct {
	speech     oai.Client
	llm        anyllmlib.Provider
	llmModel   string
	language   string
	confidence float64
	tracker    *speakerTracker
	breaker    *resilience.Breaker
}

var _ engine.Engine = (*Engine)(nil)

// New creates a model engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.SpeechAPIKey == "" {
		return nil, fmt.Errorf("model: speech API key must not be empty")
	}
	if cfg.LLMModel == "" {
		return nil, fmt.Errorf("model: LLM model must not be empty")
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.ChunkConfidence <= 0 || cfg.ChunkConfidence > 1 {
		cfg.ChunkConfidence = DefaultChunkConfidence
	}

	speechOpts := []option.RequestOption{option.WithAPIKey(cfg.SpeechAPIKey)}
	if cfg.SpeechBaseURL != "" {
		speechOpts = append(speechOpts, option.WithBaseURL(cfg.SpeechBaseURL))
	}

	var llmOpts []anyllmlib.Option
	if cfg.LLMAPIKey != "" {
		llmOpts = append(llmOpts, anyllmlib.WithAPIKey(cfg.LLMAPIKey))
	}
	llm, err := createLLMBackend(cfg.LLMProvider, llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("model: create %q backend: %w", cfg.LLMProvider, err)
	}

	return &Engine{
		speech:     oai.NewClient(speechOpts...),
		llm:        llm,
		llmModel:   cfg.LLMModel,
		language:   cfg.Language,
		confidence: cfg.ChunkConfidence,
		tracker:    newSpeakerTracker(cfg.SpeakerTolerance),
		breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "engine/model"}),
	}, nil
}

// createLLMBackend creates the any-llm-go provider for the given name.
func createLLMBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// TranscribeChunk implements engine.Engine. The PCM payload is wrapped in a
// WAV container and submitted to the transcription API.
func (e *Engine) TranscribeChunk(ctx context.Context, chunk platform.AudioChunk) (domain.TranscriptChunk, error) {
	if len(chunk.Data) == 0 {
		return domain.TranscriptChunk{}, fmt.Errorf("model: transcribe %s: empty audio payload", chunk.ChunkID)
	}

	wav := wavFromPCM(chunk.Data, chunk.SampleRate, chunk.Channels)

	var text string
	err := e.breaker.Do(func() error {
		resp, err := e.speech.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
			Model:    oai.AudioModelWhisper1,
			File:     oai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
			Language: oai.String(e.language),
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return domain.TranscriptChunk{}, fmt.Errorf("model: transcribe %s: %w", chunk.ChunkID, err)
	}

	speaker := e.tracker.identify(chunk.Data)

	end := chunk.Timestamp.Add(chunk.Duration)
	if chunk.Duration <= 0 {
		end = chunk.Timestamp.Add(2 * time.Second)
	}
	return domain.TranscriptChunk{
		Text:       strings.TrimSpace(text),
		SpeakerID:  speaker.SpeakerID,
		StartTime:  chunk.Timestamp,
		EndTime:    end,
		Confidence: e.confidence,
		IsFinal:    true,
		Language:   e.language,
	}, nil
}

// IdentifySpeaker implements engine.Engine.
func (e *Engine) IdentifySpeaker(_ context.Context, chunk platform.AudioChunk) (domain.Speaker, error) {
	if len(chunk.Data) == 0 {
		return domain.Speaker{}, fmt.Errorf("model: identify speaker %s: empty audio payload", chunk.ChunkID)
	}
	return e.tracker.identify(chunk.Data), nil
}

// GenerateSummary implements engine.Engine.
func (e *Engine) GenerateSummary(ctx context.Context, fullText string, speakers []domain.Speaker) (engine.MeetingSummary, error) {
	if strings.TrimSpace(fullText) == "" {
		return engine.MeetingSummary{}, fmt.Errorf("model: generate summary: empty transcript")
	}

	var sb strings.Builder
	if len(speakers) > 0 {
		sb.WriteString("Participants:\n")
		for _, sp := range speakers {
			fmt.Fprintf(&sb, "- %s (%s)\n", sp.Name, sp.Role)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(fullText)

	raw, err := e.complete(ctx, summarySystemPrompt, sb.String())
	if err != nil {
		return engine.MeetingSummary{}, fmt.Errorf("model: generate summary: %w", err)
	}
	return parseSummary(raw)
}

// ExtractActionItems implements engine.Engine.
func (e *Engine) ExtractActionItems(ctx context.Context, fullText string) ([]domain.ActionItem, error) {
	if strings.TrimSpace(fullText) == "" {
		return nil, nil
	}
	raw, err := e.complete(ctx, actionItemSystemPrompt, "Transcript:\n"+fullText)
	if err != nil {
		return nil, fmt.Errorf("model: extract action items: %w", err)
	}
	return parseActionItems(raw)
}

// SuggestNextSteps implements engine.Engine.
func (e *Engine) SuggestNextSteps(ctx context.Context, fullText, summaryText string) ([]string, error) {
	prompt := fmt.Sprintf("Summary:\n%s\n\nTranscript:\n%s", summaryText, fullText)
	raw, err := e.complete(ctx, nextStepsSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("model: suggest next steps: %w", err)
	}
	return parseNextSteps(raw)
}

// complete runs one breaker-guarded chat completion and returns the model's
// text response.
func (e *Engine) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temp := 0.2
	params := anyllmlib.CompletionParams{
		Model: e.llmModel,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: userPrompt},
		},
		Temperature: &temp,
	}

	var content string
	err := e.breaker.Do(func() error {
		resp, err := e.llm.Completion(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty choices in response")
		}
		content = resp.Choices[0].Message.ContentString()
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error { return nil }
