package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/prompts"
	"github.com/yungbote/lessongen-backend/internal/platform/llm"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

const DefaultTimeout = 60 * time.Second

// Request is one planning call. Previous and Feedback are set on replan.
type Request struct {
	Learning lessongen.LearningRequest
	Previous *lessongen.PlannerDraft
	Feedback string
}

type Result struct {
	Draft      lessongen.PlannerDraft
	SoftIssues []string
	// PromptFingerprint identifies the rendered prompt for audit.
	PromptFingerprint string
}

type Adapter struct {
	log     *logger.Logger
	llm     llm.Client
	timeout time.Duration
}

func New(log *logger.Logger, client llm.Client, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{log: log.With("service", "PlannerAdapter"), llm: client, timeout: timeout}
}

// Plan calls the generation service and translates its response into a
// validated PlannerDraft. Every failure wraps lessongen.ErrPlanningFailed.
func (a *Adapter) Plan(ctx context.Context, req Request) (*Result, error) {
	domain := req.Learning.ResolveDomain()
	ctx, span := otel.Tracer("lessongen/planner").Start(ctx, "planner.plan")
	defer span.End()
	span.SetAttributes(attribute.String("lessongen.domain", string(domain)))

	res, err := a.plan(ctx, req, domain)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn("Planning failed", "domain", domain, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("lessongen.chapters", len(res.Draft.TOC)),
		attribute.Int("lessongen.pairs", res.Draft.PairCount()),
	)
	for _, issue := range res.SoftIssues {
		a.log.Warn("Planner soft issue", "domain", domain, "issue", issue)
	}
	return res, nil
}

func (a *Adapter) plan(ctx context.Context, req Request, domain lessongen.Domain) (*Result, error) {
	profile, err := prompts.ProfileFor(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lessongen.ErrPlanningFailed, err)
	}
	in, err := buildInput(req, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lessongen.ErrPlanningFailed, err)
	}
	p, err := prompts.Build(prompts.PlannerDraft, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lessongen.ErrPlanningFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	obj, err := a.llm.GenerateJSON(callCtx, p.System, p.User, p.SchemaName, p.Schema)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s: %w", lessongen.ErrPlanningFailed, a.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: %v", lessongen.ErrPlanningFailed, err)
	}

	draft, soft, err := Parse(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lessongen.ErrPlanningFailed, err)
	}
	return &Result{Draft: *draft, SoftIssues: soft, PromptFingerprint: p.Fingerprint()}, nil
}

func buildInput(req Request, profile prompts.Profile) (prompts.Input, error) {
	reqJSON, err := json.MarshalIndent(req.Learning, "", "  ")
	if err != nil {
		return prompts.Input{}, fmt.Errorf("encode request: %w", err)
	}
	in := prompts.Input{
		Profile:           profile,
		RequestJSON:       string(reqJSON),
		Headline:          req.Learning.Headline(),
		CurriculumContext: strings.TrimSpace(req.Learning.CurriculumContext),
		Feedback:          strings.TrimSpace(req.Feedback),
	}
	if req.Previous != nil {
		prev, err := json.Marshal(req.Previous.TOC)
		if err != nil {
			return prompts.Input{}, fmt.Errorf("encode previous draft: %w", err)
		}
		in.PreviousDraftJSON = string(prev)
	}
	return in, nil
}
