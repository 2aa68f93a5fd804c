package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

var beamContext = JudgeContext{
	AnnotationID:     "p1-1",
	AnnotationText:   "Beam A1 must be 350mm",
	ReferenceExcerpt: "Beam A1 300mm",
	FinalExcerpt:     "Beam A1 350mm",
}

func TestRateLimitedCall_Success(t *testing.T) {
	log := logger.NewNoOpLogger()

	got, err := RateLimitedCall(context.Background(), EstimateTokens(beamContext), log, func(ctx context.Context) (Judgment, error) {
		return Judgment{Label: models.LabelImplemented, Rationale: "dimension updated"}, nil
	})
	if err != nil {
		t.Fatalf("RateLimitedCall failed: %v", err)
	}
	if got.Label != models.LabelImplemented {
		t.Errorf("Label = %q, want %q", got.Label, models.LabelImplemented)
	}
}

func TestRateLimitedCall_NonRateLimitError(t *testing.T) {
	log := logger.NewNoOpLogger()
	var calls int32

	_, err := RateLimitedCall(context.Background(), 100, log, func(ctx context.Context) (Judgment, error) {
		atomic.AddInt32(&calls, 1)
		return Judgment{}, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded passed through", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, timeouts must not be retried", calls)
	}
}

func TestRateLimitedCall_RateLimitRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping backoff test in short mode")
	}
	log := logger.NewNoOpLogger()
	var calls int32

	got, err := RateLimitedCall(context.Background(), 100, log, func(ctx context.Context) (Judgment, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Judgment{}, errors.New("429 Too Many Requests")
		}
		return Judgment{Label: models.LabelPartial}, nil
	})
	if err != nil {
		t.Fatalf("RateLimitedCall failed after backoff: %v", err)
	}
	if got.Label != models.LabelPartial {
		t.Errorf("Label = %q, want partial", got.Label)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRateLimitedCall_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RateLimitedCall(ctx, 100, logger.NewNoOpLogger(), func(ctx context.Context) (Judgment, error) {
		t.Error("judge called with a cancelled context")
		return Judgment{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 429", errors.New("POST /responses: 429 Too Many Requests"), true},
		{"rate limit text", errors.New("rate limit reached for gpt-4o-mini"), true},
		{"error code", fmt.Errorf("judge p3-2: %w", errors.New("rate_limit_exceeded")), true},
		{"malformed output", errors.New("malformed judge output: unexpected end of JSON input"), false},
		{"timeout", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.err); got != tt.want {
				t.Errorf("isRateLimitError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParallelProcess(t *testing.T) {
	ids := []string{"p1-1", "p1-2", "p2-1", "p4-1", "p4-2"}

	labels, err := ParallelProcess(context.Background(), ids, 2, logger.NewNoOpLogger(), func(ctx context.Context, i int, id string) (string, error) {
		// Finish out of order.
		time.Sleep(time.Duration(len(ids)-i) * time.Millisecond)
		return "judged " + id, nil
	})
	if err != nil {
		t.Fatalf("ParallelProcess failed: %v", err)
	}
	if len(labels) != len(ids) {
		t.Fatalf("got %d results, want %d", len(labels), len(ids))
	}
	for i, id := range ids {
		if labels[i] != "judged "+id {
			t.Errorf("result[%d] = %q, want input order", i, labels[i])
		}
	}
}

func TestParallelProcess_Error(t *testing.T) {
	ids := []string{"p1-1", "p1-2", "p2-1"}
	boom := &JudgeError{AnnotationID: "p1-2", Err: errors.New("connection reset")}

	_, err := ParallelProcess(context.Background(), ids, 2, logger.NewNoOpLogger(), func(ctx context.Context, _ int, id string) (string, error) {
		if id == "p1-2" {
			return "", boom
		}
		return id, nil
	})
	var je *JudgeError
	if !errors.As(err, &je) || je.AnnotationID != "p1-2" {
		t.Fatalf("err = %v, want JudgeError for p1-2", err)
	}
}

func TestParallelProcess_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := ParallelProcess(ctx, []string{"p1-1", "p1-2"}, 2, logger.NewNoOpLogger(), func(ctx context.Context, _ int, id string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return id, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, nothing should run after cancellation", calls)
	}
}

func TestParallelProcess_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d-1", i+1)
	}

	_, err := ParallelProcess(context.Background(), ids, 3, logger.NewNoOpLogger(), func(ctx context.Context, _ int, id string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return id, nil
	})
	if err != nil {
		t.Fatalf("ParallelProcess failed: %v", err)
	}
	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", peak)
	}
}
