// Package validate schema-checks and size-bounds incoming AI request
// payloads per modality before any expensive work happens. Validation is
// pure and fail-fast: the first violation is reported with its field path.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/promptgate/promptgate/internal/apierror"
)

// Modality identifies an AI interaction type. Each modality carries its own
// size limits and rate-limit tiers.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityImage Modality = "image"
	ModalityTTS   Modality = "tts"
)

// Limits holds the per-modality ceilings the validator enforces.
type Limits struct {
	MaxBodyBytes       int64 `koanf:"max_body_bytes"`
	ChatMessageChars   int   `koanf:"chat_message_chars"`
	ImagePromptChars   int   `koanf:"image_prompt_chars"`
	TTSTextChars       int   `koanf:"tts_text_chars"`
	MaxHistoryMessages int   `koanf:"max_history_messages"`
	MaxHistoryBytes    int   `koanf:"max_history_bytes"`
	MaxPromptTokens    int   `koanf:"max_prompt_tokens"` // 0 disables the token budget
}

// DefaultLimits returns the standard ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:       1_000_000,
		ChatMessageChars:   10_000,
		ImagePromptChars:   1_000,
		TTSTextChars:       5_000,
		MaxHistoryMessages: 50,
		MaxHistoryBytes:    500_000,
		MaxPromptTokens:    8_192,
	}
}

// Closed enumerations. Anything outside these sets is rejected.
var (
	providers    = []string{"openai", "anthropic", "google"}
	imageSizes   = []string{"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792"}
	voices       = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	historyRoles = []string{"user", "assistant", "system"}
)

// ChatMessage is a single turn of prior conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the validated chat payload.
type ChatRequest struct {
	Message  string        `json:"message"`
	History  []ChatMessage `json:"history,omitempty"`
	Provider string        `json:"provider,omitempty"`
}

// ImageRequest is the validated image-generation payload.
type ImageRequest struct {
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`
	N        int    `json:"n,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// TTSRequest is the validated text-to-speech payload.
type TTSRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Provider string  `json:"provider,omitempty"`
}

// Request is a schema-checked payload for exactly one modality.
type Request struct {
	Modality Modality
	Chat     *ChatRequest
	Image    *ImageRequest
	TTS      *TTSRequest
}

// PrimaryText returns the free-text field the sanitizer scans for the
// request's modality.
func (r *Request) PrimaryText() string {
	switch r.Modality {
	case ModalityChat:
		return r.Chat.Message
	case ModalityImage:
		return r.Image.Prompt
	case ModalityTTS:
		return r.TTS.Text
	}
	return ""
}

// SetPrimaryText replaces the free-text field with its sanitized form.
func (r *Request) SetPrimaryText(text string) {
	switch r.Modality {
	case ModalityChat:
		r.Chat.Message = text
	case ModalityImage:
		r.Image.Prompt = text
	case ModalityTTS:
		r.TTS.Text = text
	}
}

// TokenEstimator counts prompt tokens for the chat budget. tokens.Estimator
// satisfies it.
type TokenEstimator interface {
	CountMessages(message string, history []string) (int, error)
}

// Validator checks raw request bodies against the configured limits.
// The token estimator is optional; when present, chat prompts are also
// bounded by an estimated token budget.
type Validator struct {
	limits    Limits
	estimator TokenEstimator
}

// New creates a validator with the given limits.
func New(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// WithEstimator enables the chat token budget.
func (v *Validator) WithEstimator(e TokenEstimator) *Validator {
	v.estimator = e
	return v
}

// Limits returns the configured ceilings.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate parses and schema-checks a raw body for the given modality.
// The returned error is always an *apierror.Error with CodeInvalidRequest.
func (v *Validator) Validate(modality Modality, body []byte) (*Request, error) {
	switch modality {
	case ModalityChat:
		return v.validateChat(body)
	case ModalityImage:
		return v.validateImage(body)
	case ModalityTTS:
		return v.validateTTS(body)
	default:
		return nil, apierror.ErrInvalidRequest(fmt.Sprintf("unknown modality %q", modality))
	}
}

func (v *Validator) validateChat(body []byte) (*Request, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierror.ErrInvalidRequest("request body is not valid JSON").WithCause(err)
	}

	if strings.TrimSpace(req.Message) == "" {
		return nil, apierror.ErrInvalidRequest("message is required").WithField("message")
	}
	if n := utf8.RuneCountInString(req.Message); n > v.limits.ChatMessageChars {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("message exceeds %d characters", v.limits.ChatMessageChars)).WithField("message")
	}
	if len(req.History) > v.limits.MaxHistoryMessages {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("history exceeds %d messages", v.limits.MaxHistoryMessages)).WithField("history")
	}
	for i, msg := range req.History {
		if !oneOf(msg.Role, historyRoles) {
			return nil, apierror.ErrInvalidRequest(
				fmt.Sprintf("history role must be one of %s", strings.Join(historyRoles, ", "))).
				WithField(fmt.Sprintf("history[%d].role", i))
		}
		if msg.Content == "" {
			return nil, apierror.ErrInvalidRequest("history content must not be empty").
				WithField(fmt.Sprintf("history[%d].content", i))
		}
	}
	if len(req.History) > 0 {
		serialized, err := json.Marshal(req.History)
		if err != nil {
			return nil, apierror.ErrInvalidRequest("history is not serializable").WithCause(err)
		}
		if len(serialized) > v.limits.MaxHistoryBytes {
			return nil, apierror.ErrInvalidRequest(
				fmt.Sprintf("history exceeds %d bytes", v.limits.MaxHistoryBytes)).WithField("history")
		}
	}
	if req.Provider != "" && !oneOf(req.Provider, providers) {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("provider must be one of %s", strings.Join(providers, ", "))).WithField("provider")
	}

	if v.estimator != nil && v.limits.MaxPromptTokens > 0 {
		history := make([]string, len(req.History))
		for i, msg := range req.History {
			history[i] = msg.Content
		}
		// Estimation failures never reject a request the schema accepted.
		if count, err := v.estimator.CountMessages(req.Message, history); err == nil &&
			count > v.limits.MaxPromptTokens {
			return nil, apierror.ErrInvalidRequest(
				fmt.Sprintf("prompt exceeds the %d token budget", v.limits.MaxPromptTokens)).
				WithField("message")
		}
	}

	return &Request{Modality: ModalityChat, Chat: &req}, nil
}

func (v *Validator) validateImage(body []byte) (*Request, error) {
	var req ImageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierror.ErrInvalidRequest("request body is not valid JSON").WithCause(err)
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apierror.ErrInvalidRequest("prompt is required").WithField("prompt")
	}
	if n := utf8.RuneCountInString(req.Prompt); n > v.limits.ImagePromptChars {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("prompt exceeds %d characters", v.limits.ImagePromptChars)).WithField("prompt")
	}
	if req.Size != "" && !oneOf(req.Size, imageSizes) {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("size must be one of %s", strings.Join(imageSizes, ", "))).WithField("size")
	}
	if req.N != 0 && (req.N < 1 || req.N > 4) {
		return nil, apierror.ErrInvalidRequest("n must be between 1 and 4").WithField("n")
	}
	if req.Provider != "" && !oneOf(req.Provider, providers) {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("provider must be one of %s", strings.Join(providers, ", "))).WithField("provider")
	}

	return &Request{Modality: ModalityImage, Image: &req}, nil
}

func (v *Validator) validateTTS(body []byte) (*Request, error) {
	var req TTSRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierror.ErrInvalidRequest("request body is not valid JSON").WithCause(err)
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, apierror.ErrInvalidRequest("text is required").WithField("text")
	}
	if n := utf8.RuneCountInString(req.Text); n > v.limits.TTSTextChars {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("text exceeds %d characters", v.limits.TTSTextChars)).WithField("text")
	}
	if req.Voice != "" && !oneOf(req.Voice, voices) {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("voice must be one of %s", strings.Join(voices, ", "))).WithField("voice")
	}
	if req.Speed != 0 && (req.Speed < 0.5 || req.Speed > 2.0) {
		return nil, apierror.ErrInvalidRequest("speed must be between 0.5 and 2.0").WithField("speed")
	}
	if req.Provider != "" && !oneOf(req.Provider, providers) {
		return nil, apierror.ErrInvalidRequest(
			fmt.Sprintf("provider must be one of %s", strings.Join(providers, ", "))).WithField("provider")
	}

	return &Request{Modality: ModalityTTS, TTS: &req}, nil
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
