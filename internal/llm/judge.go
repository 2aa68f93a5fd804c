package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// JudgeContext is what the judge sees for one correction request.
type JudgeContext struct {
	AnnotationID     string
	AnnotationText   string
	ReferenceExcerpt string
	FinalExcerpt     string
	// FinalPage is the final page as a single-page PDF, attached when set.
	FinalPage []byte
}

// Judgment is the judge's classification of one correction.
type Judgment struct {
	Label      models.VerdictLabel
	Rationale  string
	Evidence   string
	Confidence float64
}

// Judge decides whether a requested correction was carried out. It may fail
// on network errors, timeouts, rate limits or malformed output.
type Judge interface {
	Judge(ctx context.Context, jc JudgeContext) (Judgment, error)
}

// JudgeFunc adapts a function to the Judge interface.
type JudgeFunc func(ctx context.Context, jc JudgeContext) (Judgment, error)

func (f JudgeFunc) Judge(ctx context.Context, jc JudgeContext) (Judgment, error) {
	return f(ctx, jc)
}

// JudgeError is a failed judge call for one annotation.
type JudgeError struct {
	AnnotationID string
	Err          error
}

func (e *JudgeError) Error() string {
	return fmt.Sprintf("judge failed for annotation %s: %v", e.AnnotationID, e.Err)
}

func (e *JudgeError) Unwrap() error { return e.Err }

// ParseLabel maps the judge's status vocabulary onto verdict labels.
func ParseLabel(status string) (models.VerdictLabel, error) {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch s {
	case "implemented", "done", "yes":
		return models.LabelImplemented, nil
	case "not-implemented", "missing", "no":
		return models.LabelNotImplemented, nil
	case "partial", "partially-implemented":
		return models.LabelPartial, nil
	case "unclear", "unknown":
		return models.LabelUnknown, nil
	}
	return "", fmt.Errorf("unrecognised status %q", status)
}

const (
	// promptOverheadTokens covers the instructions and the JSON answer.
	promptOverheadTokens = 600
	// pageAttachmentTokens is charged when the final page PDF is attached.
	pageAttachmentTokens = 1500
)

// EstimateTokens approximates the tokens a judge call will consume, at
// four characters per token.
func EstimateTokens(jc JudgeContext) int {
	chars := len(jc.AnnotationText) + len(jc.ReferenceExcerpt) + len(jc.FinalExcerpt)
	tokens := promptOverheadTokens + chars/4
	if len(jc.FinalPage) > 0 {
		tokens += pageAttachmentTokens
	}
	return tokens
}
