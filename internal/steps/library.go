package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/fetch"
	"github.com/jonathan/agency-orchestrator/internal/jsonguard"
	"github.com/jonathan/agency-orchestrator/internal/llm"
	"github.com/jonathan/agency-orchestrator/internal/prompts"
	"github.com/jonathan/agency-orchestrator/internal/research"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Evidence fields added to a step's prompt input, never to the run context.
const (
	fieldWebsiteSnapshot = "website_snapshot"
	fieldSearchEvidence  = "search_evidence"
)

// SiteFetcher retrieves a snapshot of a lead's website.
type SiteFetcher func(ctx context.Context, siteURL string) (*fetch.Snapshot, error)

// Result is the output of one step invocation.
type Result struct {
	Step string
	// Field is the context field Data belongs under.
	Field string
	Data  any
	// Raw is the unmodified model response.
	Raw string
	// Content is what gets persisted as the artifact.
	Content string
	Type    types.ArtifactType
}

// Library executes steps against a text generation service.
// Evidence sources are optional; a failing source is logged and skipped.
type Library struct {
	gen       llm.Generator
	searcher  research.Searcher
	fetchSite SiteFetcher
	logger    *zap.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithSearcher adds web search evidence to DeepResearch.
func WithSearcher(s research.Searcher) Option {
	return func(l *Library) { l.searcher = s }
}

// WithSiteFetcher adds a website snapshot to ResolveLead.
func WithSiteFetcher(f SiteFetcher) Option {
	return func(l *Library) { l.fetchSite = f }
}

// WithLogger sets the library logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// NewLibrary creates a step library backed by gen.
func NewLibrary(gen llm.Generator, opts ...Option) *Library {
	l := &Library{gen: gen, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Execute runs a single step. Lite runs execute DeepResearch with the lite definition.
// Any failure is a *StepError; the step is never retried here.
func (l *Library) Execute(ctx context.Context, name string, c Context, rc types.RunContext, mode types.RunMode) (*Result, error) {
	def, ok := StepRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown step: %s", name)
	}
	if name == DeepResearch && mode == types.ModeLite {
		def = StepRegistry[DeepResearchLite]
	}
	if !def.Generates() {
		return nil, fmt.Errorf("step %s does not generate output", name)
	}

	if err := ValidateInputs(c, def.Name); err != nil {
		return nil, stepErr(name, KindDependency, err)
	}

	input, err := l.gatherInput(ctx, def, c)
	if err != nil {
		return nil, stepErr(name, KindDependency, err)
	}

	prompt, err := BuildPrompt(def, rc, input)
	if err != nil {
		return nil, stepErr(name, KindGeneration, err)
	}

	l.logger.Debug("generating step output",
		zap.String("step", name),
		zap.String("module", def.Module),
		zap.String("tier", string(def.Tier)),
		zap.Int("prompt_chars", len(prompt)))

	raw, err := l.gen.Generate(ctx, llm.Request{
		Module:         def.Module,
		Prompt:         prompt,
		ResponseSchema: def.Schema,
		Tier:           def.Tier,
	})
	if err != nil {
		return nil, stepErr(name, KindGeneration, err)
	}

	if def.Format == types.ArtifactMarkdown {
		return markdownResult(name, def, raw)
	}
	return jsonResult(name, def, raw)
}

// BuildPrompt concatenates the directive, the task template filled with input,
// and for JSON steps the expected output shape.
func BuildPrompt(def StepDefinition, rc types.RunContext, input string) (string, error) {
	task, err := prompts.Render(prompts.StepsFile, def.PromptKey, map[string]string{"Input": input})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", def.Name, err)
	}

	var sb strings.Builder
	sb.WriteString(BuildDirective(rc))
	sb.WriteString("\n\n")
	sb.WriteString(task)
	sb.WriteString("\n\n")
	if def.Format == types.ArtifactJSON {
		sb.WriteString(llm.BuildShapeInstruction(def.Output, def.Shape))
	}
	return sb.String(), nil
}

func (l *Library) gatherInput(ctx context.Context, def StepDefinition, c Context) (string, error) {
	fields := append([]string{}, def.Inputs...)

	switch def.Name {
	case ResolveLead:
		if l.fetchSite == nil {
			break
		}
		lead := leadFromContext(c)
		if lead == nil || lead.WebsiteURL == "" {
			break
		}
		snap, err := l.fetchSite(ctx, lead.WebsiteURL)
		if err != nil {
			l.logger.Warn("website snapshot unavailable", zap.String("url", lead.WebsiteURL), zap.Error(err))
			break
		}
		c = c.With(fieldWebsiteSnapshot, snap)
		fields = append(fields, fieldWebsiteSnapshot)

	case DeepResearch, DeepResearchLite:
		if l.searcher == nil {
			break
		}
		name, site, niche := researchSubject(c)
		evidence, err := research.Collect(ctx, l.searcher, name, site, niche)
		if err != nil {
			l.logger.Warn("search evidence unavailable", zap.String("business", name), zap.Error(err))
			break
		}
		if len(evidence) > 0 {
			c = c.With(fieldSearchEvidence, evidence)
			fields = append(fields, fieldSearchEvidence)
		}
	}

	return c.Subset(fields...)
}

func jsonResult(name string, def StepDefinition, raw string) (*Result, error) {
	parsed := jsonguard.SafeParse(raw)
	if !parsed.OK {
		return nil, stepErr(name, KindParse, errors.New(parsed.Err))
	}
	obj, ok := parsed.Object()
	if !ok {
		return nil, stepErr(name, KindParse, errors.New("response is not a JSON object"))
	}

	if check := jsonguard.ValidateKeys(obj, []string{def.RequiredPath}); !check.OK {
		return nil, stepErr(name, KindMissingKey, fmt.Errorf("missing required keys: %s", strings.Join(check.Missing, ", ")))
	}
	if def.Schema != "" {
		if err := jsonguard.ValidateSchema(obj, def.Schema); err != nil {
			return nil, stepErr(name, KindSchema, err)
		}
	}

	return &Result{
		Step:    name,
		Field:   def.Output,
		Data:    obj[def.Output],
		Raw:     raw,
		Content: parsed.Envelope,
		Type:    types.ArtifactJSON,
	}, nil
}

func markdownResult(name string, def StepDefinition, raw string) (*Result, error) {
	content := CleanMarkdown(raw)
	if content == "" {
		return nil, stepErr(name, KindEmpty, errors.New("empty response"))
	}
	return &Result{
		Step:    name,
		Field:   def.Output,
		Data:    content,
		Raw:     raw,
		Content: content,
		Type:    types.ArtifactMarkdown,
	}, nil
}

// CleanMarkdown trims whitespace and strips a fence that wraps the whole document.
// A document that merely starts with a code block is left alone.
func CleanMarkdown(text string) string {
	if !llm.IsFenced(text) {
		return strings.TrimSpace(text)
	}
	body, _ := llm.StripFence(text)
	return body
}

// Hydrate recovers a step's context field from its persisted artifact.
func Hydrate(stepName string, artifact types.Artifact) (string, any, error) {
	def, ok := StepRegistry[stepName]
	if !ok {
		return "", nil, fmt.Errorf("unknown step: %s", stepName)
	}
	if def.Output == "" {
		return "", nil, fmt.Errorf("step %s has no output field", stepName)
	}

	switch artifact.Type {
	case types.ArtifactJSON:
		parsed := jsonguard.SafeParse(artifact.Content)
		if !parsed.OK {
			return "", nil, fmt.Errorf("failed to parse artifact %s: %s", artifact.ID, parsed.Err)
		}
		obj, ok := parsed.Object()
		if !ok {
			return "", nil, fmt.Errorf("artifact %s is not a JSON object", artifact.ID)
		}
		value, ok := obj[def.Output]
		if !ok {
			return "", nil, fmt.Errorf("artifact %s has no %q field", artifact.ID, def.Output)
		}
		return def.Output, value, nil
	default:
		return def.Output, artifact.Content, nil
	}
}

// IdentityConfirmed reports whether a resolved_lead value confirms the business.
func IdentityConfirmed(resolved any) bool {
	obj, ok := resolved.(map[string]any)
	if !ok {
		return false
	}
	confirmed, _ := obj["business_confirmed"].(bool)
	return confirmed
}

func leadFromContext(c Context) *types.Lead {
	v, ok := c.Get(FieldLead)
	if !ok {
		return nil
	}
	switch lead := v.(type) {
	case *types.Lead:
		return lead
	case types.Lead:
		return &lead
	}
	return nil
}

// researchSubject prefers the resolved identity over the raw lead.
func researchSubject(c Context) (name, site, niche string) {
	if lead := leadFromContext(c); lead != nil {
		name, site, niche = lead.BusinessName, lead.WebsiteURL, lead.Niche
	}
	if v, ok := c.Get("resolved_lead"); ok {
		if obj, ok := v.(map[string]any); ok {
			if s, ok := obj["business_name"].(string); ok && s != "" {
				name = s
			}
			if s, ok := obj["website_url"].(string); ok && s != "" {
				site = s
			}
			if s, ok := obj["category"].(string); ok && s != "" && niche == "" {
				niche = s
			}
		}
	}
	return name, site, niche
}
