// Package steps provides the step library for the campaign pipeline: step definitions,
// the immutable run context, the compliance directive and step execution.
package steps

import (
	"fmt"

	"github.com/jonathan/agency-orchestrator/internal/llm"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Canonical step names, in execution order.
const (
	ResolveLead            = "ResolveLead"
	DeepResearch           = "DeepResearch"
	ExtractSignals         = "ExtractSignals"
	DecisionGovernor       = "DecisionGovernor"
	SynthesizeIntelligence = "SynthesizeIntelligence"
	GenerateStrategy       = "GenerateStrategy"
	GenerateTextAssets     = "GenerateTextAssets"
	GenerateSocialAssets   = "GenerateSocialAssets"
	GenerateVideoScripts   = "GenerateVideoScripts"
	GenerateAudioAssets    = "GenerateAudioAssets"
	GenerateVisualAssets   = "GenerateVisualAssets"
	AssembleRun            = "AssembleRun"
	GenerateICP            = "GenerateICP"
	GenerateOffer          = "GenerateOffer"
	GenerateOutreach       = "GenerateOutreach"
	CreateFinalPackage     = "CreateFinalPackage"
	CompleteRun            = "CompleteRun"
)

// DeepResearchLite is the cheaper research variant used by lite runs.
// It is not a canonical step; it runs in DeepResearch's slot.
const DeepResearchLite = "DeepResearchLite"

// Step categories
const (
	CategoryIdentity   = "identity"
	CategoryResearch   = "research"
	CategoryStrategy   = "strategy"
	CategoryAssets     = "assets"
	CategoryGoToMarket = "go_to_market"
	CategoryPackaging  = "packaging"
	CategorySystem     = "system"
)

// Context fields that are not produced by a step.
const (
	FieldLead = "lead"
)

// StepDefinition defines metadata for a pipeline step
type StepDefinition struct {
	Name     string
	Category string
	// Module is the generation module id sent with every request.
	Module string
	Tier   llm.ModelTier
	// Inputs are the context fields the step reads.
	Inputs []string
	// Output is the context field the step adds; it is also the top-level key
	// of the JSON object the model must return.
	Output       string
	RequiredPath string
	Format       types.ArtifactType
	PromptKey    string
	// Schema is an optional JSON Schema the parsed response must satisfy.
	Schema string
	Shape  []llm.SchemaField
}

// Generates reports whether the step calls the text generation service.
func (d StepDefinition) Generates() bool {
	return d.PromptKey != ""
}

var assetFields = []string{"text_assets", "social_assets", "video_scripts", "audio_assets", "visual_assets"}

// order is the fixed execution sequence shared by every run.
var order = []string{
	ResolveLead,
	DeepResearch,
	ExtractSignals,
	DecisionGovernor,
	SynthesizeIntelligence,
	GenerateStrategy,
	GenerateTextAssets,
	GenerateSocialAssets,
	GenerateVideoScripts,
	GenerateAudioAssets,
	GenerateVisualAssets,
	AssembleRun,
	GenerateICP,
	GenerateOffer,
	GenerateOutreach,
	CreateFinalPackage,
	CompleteRun,
}

// AssetSteps are the five mutually independent asset generators.
var AssetSteps = []string{
	GenerateTextAssets,
	GenerateSocialAssets,
	GenerateVideoScripts,
	GenerateAudioAssets,
	GenerateVisualAssets,
}

// StepRegistry holds all step definitions
var StepRegistry = map[string]StepDefinition{
	ResolveLead: {
		Name:         ResolveLead,
		Category:     CategoryIdentity,
		Module:       "resolve_lead",
		Tier:         llm.TierStandard,
		Inputs:       []string{FieldLead},
		Output:       "resolved_lead",
		RequiredPath: "resolved_lead.business_confirmed",
		Format:       types.ArtifactJSON,
		PromptKey:    "resolve-lead",
		Schema:       resolvedLeadSchema,
		Shape: []llm.SchemaField{
			{Name: "business_confirmed", Type: "bool", Required: true, Description: "true only if the website clearly belongs to this operating business"},
			{Name: "business_name", Type: "string", Required: true},
			{Name: "website_url", Type: "string"},
			{Name: "location", Type: "string"},
			{Name: "category", Type: "string"},
			{Name: "confidence", Type: "number", Description: "0 to 1"},
			{Name: "notes", Type: "[]string"},
		},
	},
	DeepResearch: {
		Name:         DeepResearch,
		Category:     CategoryResearch,
		Module:       "deep_research",
		Tier:         llm.TierAdvanced,
		Inputs:       []string{"resolved_lead"},
		Output:       "research",
		RequiredPath: "research.summary",
		Format:       types.ArtifactJSON,
		PromptKey:    "deep-research",
		Shape: []llm.SchemaField{
			{Name: "summary", Type: "string", Required: true},
			{Name: "services", Type: "[]string"},
			{Name: "audience", Type: "[]string"},
			{Name: "competitors", Type: "[]string"},
			{Name: "reputation", Type: "string"},
			{Name: "gaps", Type: "[]string"},
			{Name: "assumptions", Type: "[]string"},
		},
	},
	DeepResearchLite: {
		Name:         DeepResearchLite,
		Category:     CategoryResearch,
		Module:       "deep_research_lite",
		Tier:         llm.TierLite,
		Inputs:       []string{"resolved_lead"},
		Output:       "research",
		RequiredPath: "research.summary",
		Format:       types.ArtifactJSON,
		PromptKey:    "deep-research-lite",
		Shape: []llm.SchemaField{
			{Name: "summary", Type: "string", Required: true},
			{Name: "findings", Type: "[]string", Description: "at most five"},
		},
	},
	ExtractSignals: {
		Name:         ExtractSignals,
		Category:     CategoryResearch,
		Module:       "extract_signals",
		Tier:         llm.TierStandard,
		Inputs:       []string{"research"},
		Output:       "signals",
		RequiredPath: "signals.items",
		Format:       types.ArtifactJSON,
		PromptKey:    "extract-signals",
		Shape: []llm.SchemaField{
			{Name: "items", Type: "[]{type, signal, source, strength}", Required: true},
		},
	},
	DecisionGovernor: {
		Name:         DecisionGovernor,
		Category:     CategoryStrategy,
		Module:       "decision_governor",
		Tier:         llm.TierStandard,
		Inputs:       []string{"signals"},
		Output:       "decision",
		RequiredPath: "decision.proceed",
		Format:       types.ArtifactJSON,
		PromptKey:    "decision-governor",
		Schema:       decisionSchema,
		Shape: []llm.SchemaField{
			{Name: "proceed", Type: "bool", Required: true},
			{Name: "rationale", Type: "string", Required: true},
			{Name: "guardrails", Type: "[]string"},
		},
	},
	SynthesizeIntelligence: {
		Name:         SynthesizeIntelligence,
		Category:     CategoryStrategy,
		Module:       "synthesize_intelligence",
		Tier:         llm.TierAdvanced,
		Inputs:       []string{"research", "signals", "decision"},
		Output:       "intelligence",
		RequiredPath: "intelligence.positioning",
		Format:       types.ArtifactJSON,
		PromptKey:    "synthesize-intelligence",
		Shape: []llm.SchemaField{
			{Name: "positioning", Type: "string", Required: true},
			{Name: "differentiators", Type: "[]string"},
			{Name: "objections", Type: "[]string"},
			{Name: "proof_points", Type: "[]string"},
		},
	},
	GenerateStrategy: {
		Name:         GenerateStrategy,
		Category:     CategoryStrategy,
		Module:       "generate_strategy",
		Tier:         llm.TierAdvanced,
		Inputs:       []string{"intelligence"},
		Output:       "strategy",
		RequiredPath: "strategy.pillars",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-strategy",
		Shape: []llm.SchemaField{
			{Name: "pillars", Type: "[]string", Required: true},
			{Name: "channels", Type: "[]string"},
			{Name: "messaging", Type: "[]string"},
			{Name: "metrics", Type: "[]string"},
		},
	},
	GenerateTextAssets: {
		Name:         GenerateTextAssets,
		Category:     CategoryAssets,
		Module:       "generate_text_assets",
		Tier:         llm.TierStandard,
		Inputs:       []string{"strategy"},
		Output:       "text_assets",
		RequiredPath: "text_assets.items",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-text-assets",
		Shape: []llm.SchemaField{
			{Name: "items", Type: "[]{kind, headline, body}", Required: true},
		},
	},
	GenerateSocialAssets: {
		Name:         GenerateSocialAssets,
		Category:     CategoryAssets,
		Module:       "generate_social_assets",
		Tier:         llm.TierStandard,
		Inputs:       []string{"strategy"},
		Output:       "social_assets",
		RequiredPath: "social_assets.posts",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-social-assets",
		Shape: []llm.SchemaField{
			{Name: "posts", Type: "[]{platform, copy, hashtags}", Required: true},
		},
	},
	GenerateVideoScripts: {
		Name:         GenerateVideoScripts,
		Category:     CategoryAssets,
		Module:       "generate_video_scripts",
		Tier:         llm.TierStandard,
		Inputs:       []string{"strategy"},
		Output:       "video_scripts",
		RequiredPath: "video_scripts.scripts",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-video-scripts",
		Shape: []llm.SchemaField{
			{Name: "scripts", Type: "[]{hook, body, cta, shots}", Required: true},
		},
	},
	GenerateAudioAssets: {
		Name:         GenerateAudioAssets,
		Category:     CategoryAssets,
		Module:       "generate_audio_assets",
		Tier:         llm.TierStandard,
		Inputs:       []string{"strategy"},
		Output:       "audio_assets",
		RequiredPath: "audio_assets.scripts",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-audio-assets",
		Shape: []llm.SchemaField{
			{Name: "scripts", Type: "[]{format, script, voice_direction}", Required: true},
		},
	},
	GenerateVisualAssets: {
		Name:         GenerateVisualAssets,
		Category:     CategoryAssets,
		Module:       "generate_visual_assets",
		Tier:         llm.TierStandard,
		Inputs:       []string{"strategy"},
		Output:       "visual_assets",
		RequiredPath: "visual_assets.prompts",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-visual-assets",
		Shape: []llm.SchemaField{
			{Name: "prompts", Type: "[]{subject, prompt, layout}", Required: true},
		},
	},
	AssembleRun: {
		Name:         AssembleRun,
		Category:     CategoryAssets,
		Module:       "assemble_run",
		Tier:         llm.TierLite,
		Inputs:       assetFields,
		Output:       "assembly",
		RequiredPath: "assembly.manifest",
		Format:       types.ArtifactJSON,
		PromptKey:    "assemble-run",
		Shape: []llm.SchemaField{
			{Name: "manifest", Type: "[]{id, channel, format, status}", Required: true},
			{Name: "gaps", Type: "[]string"},
		},
	},
	GenerateICP: {
		Name:         GenerateICP,
		Category:     CategoryGoToMarket,
		Module:       "generate_icp",
		Tier:         llm.TierStandard,
		Inputs:       []string{"intelligence"},
		Output:       "icp",
		RequiredPath: "icp.segments",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-icp",
		Shape: []llm.SchemaField{
			{Name: "segments", Type: "[]{name, pains, triggers}", Required: true},
		},
	},
	GenerateOffer: {
		Name:         GenerateOffer,
		Category:     CategoryGoToMarket,
		Module:       "generate_offer",
		Tier:         llm.TierStandard,
		Inputs:       []string{"icp", "strategy"},
		Output:       "offer",
		RequiredPath: "offer.headline",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-offer",
		Shape: []llm.SchemaField{
			{Name: "headline", Type: "string", Required: true},
			{Name: "components", Type: "[]string"},
			{Name: "price_anchor", Type: "string"},
			{Name: "guarantee", Type: "string"},
		},
	},
	GenerateOutreach: {
		Name:         GenerateOutreach,
		Category:     CategoryGoToMarket,
		Module:       "generate_outreach",
		Tier:         llm.TierStandard,
		Inputs:       []string{"offer", "icp"},
		Output:       "outreach",
		RequiredPath: "outreach.sequences",
		Format:       types.ArtifactJSON,
		PromptKey:    "generate-outreach",
		Shape: []llm.SchemaField{
			{Name: "sequences", Type: "[]{channel, touches}", Required: true},
		},
	},
	CreateFinalPackage: {
		Name:      CreateFinalPackage,
		Category:  CategoryPackaging,
		Module:    "create_final_package",
		Tier:      llm.TierStandard,
		Inputs:    []string{"resolved_lead", "intelligence", "strategy", "assembly", "offer", "outreach"},
		Output:    "final_package",
		Format:    types.ArtifactMarkdown,
		PromptKey: "create-final-package",
	},
	CompleteRun: {
		Name:     CompleteRun,
		Category: CategorySystem,
	},
}

// Names returns the canonical step names in execution order.
func Names() []string {
	names := make([]string, len(order))
	copy(names, order)
	return names
}

// Definition looks up a step definition by name.
func Definition(name string) (StepDefinition, bool) {
	def, ok := StepRegistry[name]
	return def, ok
}

// IsAssetStep reports whether name is one of the parallelizable asset steps.
func IsAssetStep(name string) bool {
	for _, s := range AssetSteps {
		if s == name {
			return true
		}
	}
	return false
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateInputs checks that every input field the step reads is present in c.
func ValidateInputs(c Context, stepName string) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, field := range def.Inputs {
		if !c.Has(field) {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}

const resolvedLeadSchema = `{
  "type": "object",
  "required": ["resolved_lead"],
  "properties": {
    "resolved_lead": {
      "type": "object",
      "required": ["business_confirmed"],
      "properties": {
        "business_confirmed": {"type": "boolean"},
        "business_name": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

const decisionSchema = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {
      "type": "object",
      "required": ["proceed"],
      "properties": {
        "proceed": {"type": "boolean"},
        "rationale": {"type": "string"},
        "guardrails": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`
