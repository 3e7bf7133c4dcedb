package steps

import (
	"context"
	"fmt"

	"github.com/jonathan/agency-orchestrator/internal/llm"
)

// cannedResponses are fixed, schema-valid responses keyed by module id.
var cannedResponses = map[string]string{
	"resolve_lead":            `{"resolved_lead":{"business_confirmed":true,"business_name":"Sample Business","confidence":0.9,"notes":["offline response"]}}`,
	"deep_research":           `{"research":{"summary":"Established local business with strong word of mouth.","services":["core service"],"competitors":["Nearby Competitor"],"gaps":["no online booking"]}}`,
	"deep_research_lite":      `{"research":{"summary":"Preview: local business with an active website.","findings":["has a website"]}}`,
	"extract_signals":         `{"signals":{"items":[{"type":"buying","signal":"no online booking","source":"gaps","strength":"high"}]}}`,
	"decision_governor":       `{"decision":{"proceed":true,"rationale":"Clear gap with low risk.","guardrails":["no outcome guarantees"]}}`,
	"synthesize_intelligence": `{"intelligence":{"positioning":"The fastest way to book a trusted local pro.","differentiators":["same-day service"]}}`,
	"generate_strategy":       `{"strategy":{"pillars":["convenience","trust"],"channels":["search","social"]}}`,
	"generate_text_assets":    `{"text_assets":{"items":[{"kind":"hero","headline":"Book in 60 seconds","body":"Trusted local pros."}]}}`,
	"generate_social_assets":  `{"social_assets":{"posts":[{"platform":"instagram","copy":"Booking just got easy.","hashtags":["local"]}]}}`,
	"generate_video_scripts":  `{"video_scripts":{"scripts":[{"hook":"Still calling to book?","body":"Tap once.","cta":"Book today","shots":["phone close-up"]}]}}`,
	"generate_audio_assets":   `{"audio_assets":{"scripts":[{"format":"radio_30s","script":"Need a pro today?","voice_direction":"warm"}]}}`,
	"generate_visual_assets":  `{"visual_assets":{"prompts":[{"subject":"storefront","prompt":"bright storefront at dawn","layout":"square"}]}}`,
	"assemble_run":            `{"assembly":{"manifest":[{"id":"hero-1","channel":"web","format":"text","status":"ready"}],"gaps":[]}}`,
	"generate_icp":            `{"icp":{"segments":[{"name":"busy homeowners","pains":["no time"],"triggers":["emergency"]}]}}`,
	"generate_offer":          `{"offer":{"headline":"First visit diagnostic included","components":["diagnostic","priority slot"]}}`,
	"generate_outreach":       `{"outreach":{"sequences":[{"channel":"email","touches":["intro","case study","breakup"]}]}}`,
	"create_final_package":    "# Campaign Package\n\n## Executive Summary\n\nOffline package generated from canned step outputs.\n",
}

// CannedGenerator returns a Generator that answers every step with a fixed,
// valid response. It backs offline runs and tests.
func CannedGenerator() llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		resp, ok := cannedResponses[req.Module]
		if !ok {
			return "", fmt.Errorf("no canned response for module %q", req.Module)
		}
		return resp, nil
	})
}

// CannedResponse returns the canned response for a module id.
func CannedResponse(module string) (string, bool) {
	resp, ok := cannedResponses[module]
	return resp, ok
}
