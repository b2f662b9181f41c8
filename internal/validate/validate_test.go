package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/promptgate/promptgate/internal/apierror"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func wantInvalid(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierror.Error, got %T", err)
	}
	if apiErr.Code != apierror.CodeInvalidRequest {
		t.Errorf("code = %s, want INVALID_REQUEST", apiErr.Code)
	}
	if field != "" && apiErr.Field != field {
		t.Errorf("field = %q, want %q", apiErr.Field, field)
	}
}

func TestValidateChat(t *testing.T) {
	v := New(DefaultLimits())

	t.Run("valid minimal", func(t *testing.T) {
		req, err := v.Validate(ModalityChat, []byte(`{"message": "hello"}`))
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if req.Chat.Message != "hello" {
			t.Errorf("message = %q, want hello", req.Chat.Message)
		}
		if req.PrimaryText() != "hello" {
			t.Errorf("PrimaryText() = %q, want hello", req.PrimaryText())
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := v.Validate(ModalityChat, []byte(`{"message": `))
		wantInvalid(t, err, "")
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := v.Validate(ModalityChat, []byte(`{}`))
		wantInvalid(t, err, "message")
	})

	t.Run("whitespace message", func(t *testing.T) {
		_, err := v.Validate(ModalityChat, []byte(`{"message": "   "}`))
		wantInvalid(t, err, "message")
	})

	t.Run("message too long", func(t *testing.T) {
		body := mustJSON(t, ChatRequest{Message: strings.Repeat("a", 10_001)})
		_, err := v.Validate(ModalityChat, body)
		wantInvalid(t, err, "message")
	})

	t.Run("bad provider", func(t *testing.T) {
		_, err := v.Validate(ModalityChat, []byte(`{"message": "hi", "provider": "bedrock"}`))
		wantInvalid(t, err, "provider")
	})
}

func TestValidateChat_HistoryBounds(t *testing.T) {
	v := New(DefaultLimits())

	history := func(n int) []ChatMessage {
		msgs := make([]ChatMessage, n)
		for i := range msgs {
			msgs[i] = ChatMessage{Role: "user", Content: fmt.Sprintf("turn %d", i)}
		}
		return msgs
	}

	// Boundary is exactly 50 messages.
	for _, tt := range []struct {
		count  int
		wantOK bool
	}{
		{49, true},
		{50, true},
		{51, false},
	} {
		body := mustJSON(t, ChatRequest{Message: "hi", History: history(tt.count)})
		_, err := v.Validate(ModalityChat, body)
		if tt.wantOK && err != nil {
			t.Errorf("history of %d: unexpected error %v", tt.count, err)
		}
		if !tt.wantOK {
			wantInvalid(t, err, "history")
		}
	}

	t.Run("bad role", func(t *testing.T) {
		body := mustJSON(t, ChatRequest{
			Message: "hi",
			History: []ChatMessage{{Role: "tool", Content: "x"}},
		})
		_, err := v.Validate(ModalityChat, body)
		wantInvalid(t, err, "history[0].role")
	})

	t.Run("cumulative byte ceiling", func(t *testing.T) {
		big := strings.Repeat("x", 9_999)
		msgs := make([]ChatMessage, 50)
		for i := range msgs {
			msgs[i] = ChatMessage{Role: "user", Content: big}
		}
		body := mustJSON(t, ChatRequest{Message: "hi", History: msgs})
		_, err := v.Validate(ModalityChat, body)
		wantInvalid(t, err, "history")
	})
}

func TestValidateImage(t *testing.T) {
	v := New(DefaultLimits())

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"prompt": "a lighthouse at dusk", "size": "1024x1024", "n": 2}`, ""},
		{"missing prompt", `{"size": "512x512"}`, "prompt"},
		{"prompt too long", `{"prompt": "` + strings.Repeat("p", 1_001) + `"}`, "prompt"},
		{"bad size", `{"prompt": "x", "size": "640x480"}`, "size"},
		{"n too large", `{"prompt": "x", "n": 5}`, "n"},
		{"n negative", `{"prompt": "x", "n": -1}`, "n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ModalityImage, []byte(tt.body))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			wantInvalid(t, err, tt.wantField)
		})
	}
}

func TestValidateTTS(t *testing.T) {
	v := New(DefaultLimits())

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"text": "read this aloud", "voice": "nova", "speed": 1.25}`, ""},
		{"missing text", `{"voice": "nova"}`, "text"},
		{"text too long", `{"text": "` + strings.Repeat("t", 5_001) + `"}`, "text"},
		{"bad voice", `{"text": "x", "voice": "morgan"}`, "voice"},
		{"speed too slow", `{"text": "x", "speed": 0.25}`, "speed"},
		{"speed too fast", `{"text": "x", "speed": 2.5}`, "speed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ModalityTTS, []byte(tt.body))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			wantInvalid(t, err, tt.wantField)
		})
	}
}

func TestValidate_UnknownModality(t *testing.T) {
	v := New(DefaultLimits())
	_, err := v.Validate(Modality("video"), []byte(`{}`))
	wantInvalid(t, err, "")
}

func TestSetPrimaryText(t *testing.T) {
	req := &Request{Modality: ModalityImage, Image: &ImageRequest{Prompt: "before"}}
	req.SetPrimaryText("after")
	if req.Image.Prompt != "after" {
		t.Errorf("SetPrimaryText did not replace the prompt, got %q", req.Image.Prompt)
	}
}

// wordEstimator counts whitespace-separated words, close enough to stand in
// for a real tokenizer in budget tests.
type wordEstimator struct{}

func (wordEstimator) CountMessages(message string, history []string) (int, error) {
	n := len(strings.Fields(message))
	for _, h := range history {
		n += len(strings.Fields(h))
	}
	return n, nil
}

type failingEstimator struct{}

func (failingEstimator) CountMessages(string, []string) (int, error) {
	return 0, errors.New("codec unavailable")
}

func TestValidateChatTokenBudget(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPromptTokens = 5
	v := New(limits).WithEstimator(wordEstimator{})

	under := mustJSON(t, ChatRequest{Message: "three word prompt"})
	if _, err := v.Validate(ModalityChat, under); err != nil {
		t.Fatalf("under-budget prompt rejected: %v", err)
	}

	over := mustJSON(t, ChatRequest{Message: "this prompt has far too many words in it"})
	_, err := v.Validate(ModalityChat, over)
	wantInvalid(t, err, "message")

	// History counts against the same budget.
	withHistory := mustJSON(t, ChatRequest{
		Message: "short one",
		History: []ChatMessage{{Role: "user", Content: "several words of prior conversation"}},
	})
	_, err = v.Validate(ModalityChat, withHistory)
	wantInvalid(t, err, "message")
}

func TestValidateChatTokenBudgetDisabled(t *testing.T) {
	// A zero budget means no token ceiling even with an estimator wired.
	limits := DefaultLimits()
	limits.MaxPromptTokens = 0
	v := New(limits).WithEstimator(wordEstimator{})

	body := mustJSON(t, ChatRequest{Message: strings.Repeat("word ", 500)})
	if _, err := v.Validate(ModalityChat, body); err != nil {
		t.Fatalf("budget disabled, but request rejected: %v", err)
	}
}

func TestValidateChatEstimationFailureNeverRejects(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPromptTokens = 1
	v := New(limits).WithEstimator(failingEstimator{})

	body := mustJSON(t, ChatRequest{Message: "a schema-valid prompt of many words"})
	if _, err := v.Validate(ModalityChat, body); err != nil {
		t.Fatalf("estimation failure must not reject a schema-valid request: %v", err)
	}
}
