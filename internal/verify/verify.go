// Package verify checks reviewer annotations against the final drawing set
// through a Judge.
package verify

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/llm"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/session"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

const dryRunRationale = "cost estimate only: judge not called"

// Item is one annotation with the text around it on both documents.
type Item struct {
	Annotation       models.Annotation
	ReferenceExcerpt string
	FinalExcerpt     string
	// FinalPage optionally attaches the final page PDF to the judge call.
	FinalPage []byte
}

func (it Item) judgeContext() llm.JudgeContext {
	return llm.JudgeContext{
		AnnotationID:     it.Annotation.ID,
		AnnotationText:   it.Annotation.Text,
		ReferenceExcerpt: it.ReferenceExcerpt,
		FinalExcerpt:     it.FinalExcerpt,
		FinalPage:        it.FinalPage,
	}
}

// Verifier judges each annotation at most once per session and never
// retries a failed call.
type Verifier struct {
	judge       llm.Judge
	session     *session.Session
	dryRun      bool
	concurrency int
	log         logger.Logger
	invocations atomic.Int64
}

// New fails with a ConfigurationError when judge calls would be needed but
// no credential is configured. judge may be nil in cost-estimate mode.
func New(judge llm.Judge, sess *session.Session, cfg config.Config, log logger.Logger) (*Verifier, error) {
	if err := cfg.RequireJudge(); err != nil {
		return nil, err
	}
	if judge == nil && !cfg.CostEstimateOnly {
		return nil, &config.ConfigurationError{Key: "judge", Reason: "no judge configured"}
	}
	return &Verifier{
		judge:       judge,
		session:     sess,
		dryRun:      cfg.CostEstimateOnly,
		concurrency: cfg.Concurrency,
		log:         log,
	}, nil
}

// Invocations is the number of judge calls made so far.
func (v *Verifier) Invocations() int {
	return int(v.invocations.Load())
}

func (v *Verifier) DryRun() bool { return v.dryRun }

// Verify judges one annotation given the text around it on the reference
// and final pages.
func (v *Verifier) Verify(ctx context.Context, annotation models.Annotation, referenceContext, finalContext string) models.Verdict {
	return v.VerifyItem(ctx, Item{Annotation: annotation, ReferenceExcerpt: referenceContext, FinalExcerpt: finalContext})
}

// VerifyItem is Verify with an optional page attachment.
func (v *Verifier) VerifyItem(ctx context.Context, item Item) models.Verdict {
	if v.dryRun {
		return models.Verdict{Annotation: item.Annotation, Label: models.LabelUnknown, Rationale: dryRunRationale}
	}
	return v.session.JudgeOnce(item.Annotation.ID, func() models.Verdict {
		return v.callJudge(ctx, item)
	})
}

func (v *Verifier) callJudge(ctx context.Context, item Item) models.Verdict {
	v.invocations.Add(1)

	// A started call runs to completion; cancellation is observed between
	// annotations.
	judgment, err := v.judge.Judge(context.WithoutCancel(ctx), item.judgeContext())
	if err != nil {
		var je *llm.JudgeError
		if !errors.As(err, &je) {
			err = &llm.JudgeError{AnnotationID: item.Annotation.ID, Err: err}
		}
		v.log.Warn("Judge failed for annotation %s: %v", item.Annotation.ID, err)
		return models.Verdict{
			Annotation: item.Annotation,
			Label:      models.LabelUnknown,
			Rationale:  err.Error(),
		}
	}

	label := judgment.Label
	if label == "" {
		label = models.LabelUnknown
	}
	return models.Verdict{
		Annotation: item.Annotation,
		Label:      label,
		Rationale:  judgment.Rationale,
		Evidence:   judgment.Evidence,
		Confidence: judgment.Confidence,
		Judged:     true,
	}
}

// VerifyAll verifies items in order, checking ctx between annotations. On
// cancellation it returns the verdicts obtained so far with ctx's error.
// With concurrency above one, calls overlap and verdicts are recombined by
// annotation id.
func (v *Verifier) VerifyAll(ctx context.Context, items []Item) ([]models.Verdict, error) {
	if v.concurrency > 1 && !v.dryRun {
		return v.verifyParallel(ctx, items)
	}

	verdicts := make([]models.Verdict, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			v.log.Info("Verification cancelled after %d of %d annotations", len(verdicts), len(items))
			return verdicts, err
		}
		verdicts = append(verdicts, v.VerifyItem(ctx, item))
	}
	return verdicts, nil
}

func (v *Verifier) verifyParallel(ctx context.Context, items []Item) ([]models.Verdict, error) {
	_, err := llm.ParallelProcess(ctx, items, v.concurrency, v.log, func(ctx context.Context, _ int, item Item) (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, err
		}
		v.VerifyItem(ctx, item)
		return struct{}{}, nil
	})

	verdicts := make([]models.Verdict, 0, len(items))
	for _, item := range items {
		if verdict, ok := v.session.Verdict(item.Annotation.ID); ok {
			verdict.Annotation = item.Annotation
			verdicts = append(verdicts, verdict)
		}
	}
	if err != nil {
		v.log.Info("Verification cancelled after %d of %d annotations", len(verdicts), len(items))
	}
	return verdicts, err
}

// Estimate reports the judge calls and tokens that verifying items would
// cost, without calling the judge. Annotations already judged in this
// session are free.
func (v *Verifier) Estimate(items []Item) models.CostEstimate {
	var est models.CostEstimate
	seen := make(map[string]bool)
	for _, item := range items {
		id := item.Annotation.ID
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := v.session.Verdict(id); ok {
			continue
		}
		est.Calls++
		est.EstimatedTokens += llm.EstimateTokens(item.judgeContext())
	}
	return est
}
