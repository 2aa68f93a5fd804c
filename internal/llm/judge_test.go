package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		input   string
		want    models.VerdictLabel
		wantErr bool
	}{
		{"implemented", models.LabelImplemented, false},
		{"not_implemented", models.LabelNotImplemented, false},
		{"Not Implemented", models.LabelNotImplemented, false},
		{"partial", models.LabelPartial, false},
		{"unclear", models.LabelUnknown, false},
		{"maybe", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLabel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLabel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLabel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    models.VerdictLabel
		wantErr bool
	}{
		{
			name:   "valid",
			output: `{"status":"partial","reasoning":" Beam changed, slab not. ","evidence":"350mm","confidence":0.7}`,
			want:   models.LabelPartial,
		},
		{name: "empty", output: "", wantErr: true},
		{name: "not json", output: "The correction was implemented.", wantErr: true},
		{name: "unknown status", output: `{"status":"perhaps","reasoning":"","evidence":"","confidence":0.5}`, wantErr: true},
		{name: "confidence out of range", output: `{"status":"implemented","reasoning":"","evidence":"","confidence":7}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJudgment(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseJudgment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Label != tt.want {
				t.Errorf("Label = %q, want %q", got.Label, tt.want)
			}
			if got.Rationale != "Beam changed, slab not." {
				t.Errorf("Rationale = %q", got.Rationale)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	base := EstimateTokens(JudgeContext{})
	if base != promptOverheadTokens {
		t.Errorf("EstimateTokens(empty) = %d, want %d", base, promptOverheadTokens)
	}
	withText := EstimateTokens(JudgeContext{AnnotationText: strings.Repeat("a", 400)})
	if withText != promptOverheadTokens+100 {
		t.Errorf("EstimateTokens(400 chars) = %d, want %d", withText, promptOverheadTokens+100)
	}
	withPage := EstimateTokens(JudgeContext{FinalPage: []byte("%PDF")})
	if withPage != promptOverheadTokens+pageAttachmentTokens {
		t.Errorf("EstimateTokens(page) = %d", withPage)
	}
}

func TestJudgeFuncAndError(t *testing.T) {
	cause := errors.New("connection reset")
	var j Judge = JudgeFunc(func(ctx context.Context, jc JudgeContext) (Judgment, error) {
		return Judgment{}, &JudgeError{AnnotationID: jc.AnnotationID, Err: cause}
	})

	_, err := j.Judge(context.Background(), JudgeContext{AnnotationID: "p1-1"})
	var je *JudgeError
	if !errors.As(err, &je) || je.AnnotationID != "p1-1" {
		t.Fatalf("Expected JudgeError for p1-1, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("JudgeError does not unwrap to its cause")
	}
}

func responsesServer(t *testing.T, status int, outputText string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		body := fmt.Sprintf(`{
			"id": "resp_1",
			"object": "response",
			"created_at": 1700000000,
			"status": "completed",
			"model": "gpt-4o-mini",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"status": "completed",
				"role": "assistant",
				"content": [{"type": "output_text", "text": %q, "annotations": []}]
			}]
		}`, outputText)
		fmt.Fprint(w, body)
	}))
}

func TestOpenAIJudge_StubServer(t *testing.T) {
	log := logger.NewNoOpLogger()

	t.Run("valid verdict", func(t *testing.T) {
		srv := responsesServer(t, http.StatusOK, `{"status":"implemented","reasoning":"Beam is now 350mm.","evidence":"Beam A1 350mm","confidence":0.9}`, 0)
		defer srv.Close()

		j := NewOpenAIJudge("sk-test", "gpt-4o-mini", log,
			WithRequestOptions(option.WithBaseURL(srv.URL), option.WithMaxRetries(0)))
		got, err := j.Judge(context.Background(), JudgeContext{
			AnnotationID:     "p1-1",
			AnnotationText:   "Change beam to 350mm",
			ReferenceExcerpt: "Beam A1 300mm",
			FinalExcerpt:     "Beam A1 350mm",
		})
		if err != nil {
			t.Fatalf("Judge failed: %v", err)
		}
		if got.Label != models.LabelImplemented || got.Evidence != "Beam A1 350mm" {
			t.Errorf("unexpected judgment: %+v", got)
		}
	})

	t.Run("malformed output", func(t *testing.T) {
		srv := responsesServer(t, http.StatusOK, "yes", 0)
		defer srv.Close()

		j := NewOpenAIJudge("sk-test", "gpt-4o-mini", log,
			WithRequestOptions(option.WithBaseURL(srv.URL), option.WithMaxRetries(0)))
		if _, err := j.Judge(context.Background(), JudgeContext{AnnotationID: "p1-1"}); err == nil {
			t.Fatal("Expected error for malformed output")
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := responsesServer(t, http.StatusInternalServerError, "", 0)
		defer srv.Close()

		j := NewOpenAIJudge("sk-test", "gpt-4o-mini", log,
			WithRequestOptions(option.WithBaseURL(srv.URL), option.WithMaxRetries(0)))
		if _, err := j.Judge(context.Background(), JudgeContext{AnnotationID: "p1-1"}); err == nil {
			t.Fatal("Expected error for server failure")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := responsesServer(t, http.StatusOK, `{}`, 2*time.Second)
		defer srv.Close()

		j := NewOpenAIJudge("sk-test", "gpt-4o-mini", log,
			WithTimeout(50*time.Millisecond),
			WithRequestOptions(option.WithBaseURL(srv.URL), option.WithMaxRetries(0)))
		_, err := j.Judge(context.Background(), JudgeContext{AnnotationID: "p1-1"})
		if err == nil {
			t.Fatal("Expected timeout error")
		}
	})
}

func TestOpenAIJudge_RetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping backoff test in short mode")
	}
	ok := responsesServer(t, http.StatusOK, `{"status":"partial","reasoning":"Only the beam changed.","evidence":"Beam A1 350mm","confidence":0.6}`, 0)
	defer ok.Close()

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"Rate limit reached for gpt-4o-mini","type":"requests","code":"rate_limit_exceeded"}}`)
			return
		}
		ok.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	j := NewOpenAIJudge("sk-test", "gpt-4o-mini", logger.NewNoOpLogger(), WithRequestOptions(option.WithBaseURL(srv.URL)))
	got, err := j.Judge(context.Background(), JudgeContext{AnnotationID: "p2-1", AnnotationText: "Add slab S3"})
	if err != nil {
		t.Fatalf("Judge failed after a 429: %v", err)
	}
	if got.Label != models.LabelPartial {
		t.Errorf("Label = %q, want partial", got.Label)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want the 429 retried once within the call", requests)
	}
}

func TestOpenAIJudge_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	j := NewOpenAIJudge(apiKey, "gpt-4o-mini", logger.NewNoOpLogger())
	got, err := j.Judge(context.Background(), JudgeContext{
		AnnotationID:     "p1-1",
		AnnotationText:   "Change beam A1 depth from 300mm to 350mm",
		ReferenceExcerpt: "Beam A1 300mm",
		FinalExcerpt:     "Beam A1 350mm",
	})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	t.Logf("Judgment: %+v", got)
	if got.Label == "" {
		t.Error("Expected a label")
	}
}
