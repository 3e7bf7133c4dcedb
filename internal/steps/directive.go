package steps

import (
	"strings"

	"github.com/jonathan/agency-orchestrator/internal/prompts"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// BuildDirective renders the safety and compliance directive for a run.
// The result depends only on rc.
func BuildDirective(rc types.RunContext) string {
	lines := []string{prompts.MustGet(prompts.SafetyFile, "header")}

	if rc.ComplianceMode == types.ComplianceRegulated {
		lines = append(lines, prompts.MustGet(prompts.SafetyFile, "compliance-regulated"))
	} else {
		lines = append(lines, prompts.MustGet(prompts.SafetyFile, "compliance-standard"))
	}

	if rc.LeadEvidenceLevel == types.EvidenceHigh {
		lines = append(lines, prompts.MustGet(prompts.SafetyFile, "evidence-high"))
	} else {
		lines = append(lines, prompts.MustGet(prompts.SafetyFile, "evidence-low"))
	}

	if rc.IdentityStrict {
		lines = append(lines, prompts.MustGet(prompts.SafetyFile, "identity-strict"))
	}

	lines = append(lines, prompts.MustGet(prompts.SafetyFile, "footer"))
	return strings.Join(lines, "\n")
}
