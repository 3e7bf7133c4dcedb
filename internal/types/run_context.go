package types

import (
	"slices"
	"strings"
	"unicode"
)

// ComplianceMode selects how conservative generated claims must be.
type ComplianceMode string

// Compliance modes
const (
	ComplianceStandard  ComplianceMode = "standard"
	ComplianceRegulated ComplianceMode = "regulated"
)

// EvidenceLevel grades how much the lead data can be trusted.
type EvidenceLevel string

// Evidence levels
const (
	EvidenceHigh EvidenceLevel = "high"
	EvidenceLow  EvidenceLevel = "low"
)

// HighEvidenceScore is the minimum lead score graded as high evidence.
const HighEvidenceScore = 70

// RegulatedKeywords are niche fragments that switch a run into regulated compliance mode.
var RegulatedKeywords = []string{
	"medical", "medicine", "health", "clinic", "dental", "dentist", "doctor", "pharma",
	"therapy", "chiropract", "legal", "attorney", "lawyer", "finance", "financial",
	"bank", "loan", "mortgage", "insurance", "invest", "crypto", "cannabis", "supplement",
}

// RegulatedWords only match as whole words ("law" must not match "lawn").
var RegulatedWords = []string{"law", "laws"}

// RunContext holds the compliance and evidence flags computed once per run.
// It is not persisted; it is recomputed from the lead and the resolved identity.
type RunContext struct {
	ComplianceMode    ComplianceMode `json:"compliance_mode"`
	LeadEvidenceLevel EvidenceLevel  `json:"lead_evidence_level"`
	IdentityStrict    bool           `json:"identity_strict"`
}

// NewRunContext derives the flags for a lead.
func NewRunContext(lead *Lead) RunContext {
	rc := RunContext{
		ComplianceMode:    ComplianceStandard,
		LeadEvidenceLevel: EvidenceLow,
	}
	if lead == nil {
		return rc
	}
	if regulatedNiche(lead.Niche) {
		rc.ComplianceMode = ComplianceRegulated
	}
	if lead.Score >= HighEvidenceScore {
		rc.LeadEvidenceLevel = EvidenceHigh
	}
	return rc
}

// WithIdentityStrict returns a copy of rc with the identity flag set.
func (rc RunContext) WithIdentityStrict(strict bool) RunContext {
	rc.IdentityStrict = strict
	return rc
}

func regulatedNiche(niche string) bool {
	niche = strings.ToLower(niche)
	for _, kw := range RegulatedKeywords {
		if strings.Contains(niche, kw) {
			return true
		}
	}
	words := strings.FieldsFunc(niche, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if slices.Contains(RegulatedWords, w) {
			return true
		}
	}
	return false
}
