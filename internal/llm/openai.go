package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
)

// DefaultJudgeTimeout bounds one judge call, retries included.
const DefaultJudgeTimeout = 90 * time.Second

var (
	verdictSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{"implemented", "not_implemented", "partial", "unclear"},
			},
			"reasoning": map[string]any{
				"type": "string",
			},
			"evidence": map[string]any{
				"type": "string",
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0.0,
				"maximum": 1.0,
			},
		},
		"required":             []string{"status", "reasoning", "evidence", "confidence"},
		"additionalProperties": false,
	}
)

const judgeInstructions = `You review construction drawings ("plans de bâtiment"). A reviewer left a correction request on the reference version of a sheet. Decide whether the final version of the sheet implements it.

Answer with:
- "status": "implemented" if the final sheet clearly reflects the request, "not_implemented" if it clearly does not, "partial" if only part of it was done, "unclear" if the text does not allow a decision.
- "reasoning": one or two sentences explaining the decision.
- "evidence": the words of the final excerpt that support the decision, or an empty string.
- "confidence": your confidence between 0 and 1.

Compare the reference and final excerpts around the annotation. Dimensions, references and labels must match the request exactly to count as implemented.`

type verdictResponse struct {
	Status     string  `json:"status"`
	Reasoning  string  `json:"reasoning"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// OpenAIJudge asks an OpenAI model through the Responses API, constrained
// to a JSON schema.
type OpenAIJudge struct {
	client  openai.Client
	model   string
	timeout time.Duration
	log     logger.Logger
	reqOpts []option.RequestOption
}

type OpenAIJudgeOption func(*OpenAIJudge)

// WithTimeout overrides DefaultJudgeTimeout.
func WithTimeout(d time.Duration) OpenAIJudgeOption {
	return func(j *OpenAIJudge) { j.timeout = d }
}

// WithRequestOptions passes extra options to the OpenAI client, such as a
// base URL.
func WithRequestOptions(opts ...option.RequestOption) OpenAIJudgeOption {
	return func(j *OpenAIJudge) {
		j.reqOpts = append(j.reqOpts, opts...)
	}
}

func NewOpenAIJudge(apiKey, model string, log logger.Logger, opts ...OpenAIJudgeOption) *OpenAIJudge {
	j := &OpenAIJudge{
		model:   model,
		timeout: DefaultJudgeTimeout,
		log:     log,
		// RateLimitedCall owns retries.
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}
	for _, opt := range opts {
		opt(j)
	}
	j.client = openai.NewClient(j.reqOpts...)
	return j
}

var _ Judge = (*OpenAIJudge)(nil)

// Judge makes one judge invocation. A 429 answer is retried with backoff
// by RateLimitedCall inside this call, under the shared token limiter, so
// however many HTTP requests it takes the annotation still counts as a
// single invocation. Any other failure is returned as is; the verifier
// never retries a judge call.
func (j *OpenAIJudge) Judge(ctx context.Context, jc JudgeContext) (Judgment, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	content := responses.ResponseInputMessageContentListParam{}
	if len(jc.FinalPage) > 0 {
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputFile: &responses.ResponseInputFileParam{
				FileData: openai.String("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(jc.FinalPage)),
				Filename: openai.String("final-page.pdf"),
			},
		})
	}
	content = append(content, responses.ResponseInputContentParamOfInputText(judgePrompt(jc)))

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(j.model),
		Instructions: openai.String(judgeInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(content, "user"),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema("correction_verdict", verdictSchema),
		},
	}

	j.log.Debug("Judging annotation %s with %s", jc.AnnotationID, j.model)
	response, err := RateLimitedCall(ctx, EstimateTokens(jc), j.log, func(ctx context.Context) (*responses.Response, error) {
		return j.client.Responses.New(ctx, params)
	})
	if err != nil {
		return Judgment{}, err
	}

	return parseJudgment(response.OutputText())
}

func judgePrompt(jc JudgeContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Correction request:\n%s\n\n", jc.AnnotationText)
	fmt.Fprintf(&b, "Reference excerpt (before):\n%s\n\n", orNone(jc.ReferenceExcerpt))
	fmt.Fprintf(&b, "Final excerpt (after):\n%s\n", orNone(jc.FinalExcerpt))
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no text found in this area)"
	}
	return s
}

// parseJudgment decodes the model output. Anything that does not follow
// the schema is an error.
func parseJudgment(output string) (Judgment, error) {
	if strings.TrimSpace(output) == "" {
		return Judgment{}, errors.New("empty judge response")
	}
	var resp verdictResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		return Judgment{}, fmt.Errorf("malformed judge response: %w", err)
	}
	label, err := ParseLabel(resp.Status)
	if err != nil {
		return Judgment{}, fmt.Errorf("malformed judge response: %w", err)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return Judgment{}, fmt.Errorf("malformed judge response: confidence %v out of range", resp.Confidence)
	}
	return Judgment{
		Label:      label,
		Rationale:  strings.TrimSpace(resp.Reasoning),
		Evidence:   strings.TrimSpace(resp.Evidence),
		Confidence: resp.Confidence,
	}, nil
}
