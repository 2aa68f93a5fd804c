package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/llm"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/session"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

var judgeConfig = config.Config{APIKey: "sk-test", Model: "gpt-4o-mini"}

// stubJudge counts calls and answers with fn.
type stubJudge struct {
	calls atomic.Int32
	fn    func(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error)
}

func (s *stubJudge) Judge(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
	s.calls.Add(1)
	return s.fn(ctx, jc)
}

func implemented() *stubJudge {
	return &stubJudge{fn: func(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
		return llm.Judgment{Label: models.LabelImplemented, Rationale: "done: " + jc.AnnotationText, Confidence: 0.9}, nil
	}}
}

func item(id string) Item {
	return Item{
		Annotation:       models.Annotation{ID: id, Text: "Change beam to 350mm"},
		ReferenceExcerpt: "Beam A1 300mm",
		FinalExcerpt:     "Beam A1 350mm",
	}
}

func newVerifier(t *testing.T, judge llm.Judge, cfg config.Config) *Verifier {
	t.Helper()
	sess := session.New(logger.NewNoOpLogger())
	t.Cleanup(func() { sess.Close() })
	v, err := New(judge, sess, cfg, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestVerify_JudgeTimeout(t *testing.T) {
	judge := &stubJudge{fn: func(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		<-ctx.Done()
		return llm.Judgment{}, ctx.Err()
	}}
	v := newVerifier(t, judge, judgeConfig)

	verdict := v.Verify(context.Background(), item("p1-1").Annotation, "Beam A1 300mm", "Beam A1 350mm")

	if verdict.Label != models.LabelUnknown {
		t.Errorf("Label = %q, want unknown", verdict.Label)
	}
	if !strings.Contains(verdict.Rationale, "deadline exceeded") {
		t.Errorf("Rationale = %q, want the failure reason", verdict.Rationale)
	}
	if verdict.Judged {
		t.Error("failed call reported as judged")
	}
	if v.Invocations() != 1 {
		t.Errorf("Invocations = %d, want 1", v.Invocations())
	}

	// No retry on a later request for the same annotation.
	v.Verify(context.Background(), item("p1-1").Annotation, "", "")
	if judge.calls.Load() != 1 || v.Invocations() != 1 {
		t.Errorf("judge called %d times, want 1", judge.calls.Load())
	}
}

func TestVerify_MalformedOutput(t *testing.T) {
	judge := &stubJudge{fn: func(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
		return llm.Judgment{}, errors.New("malformed judge response: unrecognised status \"maybe\"")
	}}
	v := newVerifier(t, judge, judgeConfig)

	verdict := v.VerifyItem(context.Background(), item("p2-1"))
	if verdict.Label != models.LabelUnknown || !strings.Contains(verdict.Rationale, "malformed") {
		t.Errorf("unexpected verdict: %+v", verdict)
	}
	if !strings.Contains(verdict.Rationale, "p2-1") {
		t.Errorf("Rationale %q does not name the annotation", verdict.Rationale)
	}
}

func TestVerify_Success(t *testing.T) {
	v := newVerifier(t, implemented(), judgeConfig)
	verdict := v.VerifyItem(context.Background(), item("p1-1"))
	if verdict.Label != models.LabelImplemented || !verdict.Judged || verdict.Confidence != 0.9 {
		t.Errorf("unexpected verdict: %+v", verdict)
	}
	if verdict.Annotation.ID != "p1-1" {
		t.Errorf("verdict for %q", verdict.Annotation.ID)
	}
}

func TestVerifyAll_AtMostOnce(t *testing.T) {
	judge := implemented()
	v := newVerifier(t, judge, judgeConfig)

	items := []Item{item("p1-1"), item("p1-2"), item("p1-1")}
	verdicts, err := v.VerifyAll(context.Background(), items)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if len(verdicts) != 3 {
		t.Fatalf("got %d verdicts, want 3", len(verdicts))
	}
	if v.Invocations() != 2 {
		t.Errorf("Invocations = %d, want 2", v.Invocations())
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.VerifyItem(context.Background(), item("p9-1"))
		}()
	}
	wg.Wait()
	if judge.calls.Load() != 3 {
		t.Errorf("judge calls = %d, want 3", judge.calls.Load())
	}
}

func TestVerifyAll_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	judge := &stubJudge{fn: func(jctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
		// Cancelling mid-call must not abort the call in progress.
		cancel()
		if jctx.Err() != nil {
			return llm.Judgment{}, jctx.Err()
		}
		return llm.Judgment{Label: models.LabelNotImplemented}, nil
	}}
	v := newVerifier(t, judge, judgeConfig)

	verdicts, err := v.VerifyAll(ctx, []Item{item("p1-1"), item("p1-2"), item("p1-3")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(verdicts) != 1 {
		t.Fatalf("got %d verdicts, want 1", len(verdicts))
	}
	if verdicts[0].Label != models.LabelNotImplemented {
		t.Errorf("in-flight call was interrupted: %+v", verdicts[0])
	}
	if judge.calls.Load() != 1 {
		t.Errorf("judge calls = %d, want 1", judge.calls.Load())
	}
}

func TestVerifyAll_Parallel(t *testing.T) {
	cfg := judgeConfig
	cfg.Concurrency = 4
	judge := &stubJudge{fn: func(ctx context.Context, jc llm.JudgeContext) (llm.Judgment, error) {
		time.Sleep(time.Millisecond)
		return llm.Judgment{Label: models.LabelPartial, Rationale: jc.AnnotationID}, nil
	}}
	v := newVerifier(t, judge, cfg)

	var items []Item
	for i := 0; i < 12; i++ {
		items = append(items, item(fmt.Sprintf("p1-%d", i+1)))
	}
	verdicts, err := v.VerifyAll(context.Background(), items)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if len(verdicts) != len(items) {
		t.Fatalf("got %d verdicts, want %d", len(verdicts), len(items))
	}
	for i, verdict := range verdicts {
		id := items[i].Annotation.ID
		if verdict.Annotation.ID != id || verdict.Rationale != id {
			t.Errorf("verdict %d belongs to %q (%q), want %q", i, verdict.Annotation.ID, verdict.Rationale, id)
		}
	}
	if v.Invocations() != 12 {
		t.Errorf("Invocations = %d, want 12", v.Invocations())
	}
}

func TestNew_ConfigurationError(t *testing.T) {
	judge := implemented()
	sess := session.New(logger.NewNoOpLogger())
	defer sess.Close()

	_, err := New(judge, sess, config.Config{Model: "gpt-4o-mini"}, logger.NewNoOpLogger())
	if !config.IsConfigurationError(err) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if judge.calls.Load() != 0 {
		t.Error("judge called despite configuration error")
	}

	_, err = New(nil, sess, judgeConfig, logger.NewNoOpLogger())
	if !config.IsConfigurationError(err) {
		t.Fatalf("Expected ConfigurationError for missing judge, got %v", err)
	}
}

func TestDryRun(t *testing.T) {
	v := newVerifier(t, nil, config.Config{CostEstimateOnly: true})

	items := []Item{item("p1-1"), item("p1-2"), item("p1-1")}
	est := v.Estimate(items)
	if est.Calls != 2 {
		t.Errorf("Estimate.Calls = %d, want 2", est.Calls)
	}
	if est.EstimatedTokens <= 0 {
		t.Errorf("Estimate.EstimatedTokens = %d", est.EstimatedTokens)
	}

	verdicts, err := v.VerifyAll(context.Background(), items)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	for _, verdict := range verdicts {
		if verdict.Label != models.LabelUnknown || verdict.Judged {
			t.Errorf("dry run produced %+v", verdict)
		}
	}
	if v.Invocations() != 0 {
		t.Errorf("Invocations = %d, want 0", v.Invocations())
	}
}

func TestEstimate_SkipsCachedVerdicts(t *testing.T) {
	v := newVerifier(t, implemented(), judgeConfig)
	items := []Item{item("p1-1"), item("p1-2")}

	before := v.Estimate(items)
	v.VerifyItem(context.Background(), items[0])
	after := v.Estimate(items)

	if before.Calls != 2 || after.Calls != 1 {
		t.Errorf("Calls before/after = %d/%d, want 2/1", before.Calls, after.Calls)
	}
}
