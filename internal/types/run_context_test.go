package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunContext(t *testing.T) {
	tests := []struct {
		name       string
		lead       *Lead
		compliance ComplianceMode
		evidence   EvidenceLevel
	}{
		{"regulated niche high score", &Lead{Niche: "Family Dental Clinic", Score: 90}, ComplianceRegulated, EvidenceHigh},
		{"standard niche low score", &Lead{Niche: "Landscaping", Score: 40}, ComplianceStandard, EvidenceLow},
		{"threshold is inclusive", &Lead{Niche: "bakery", Score: HighEvidenceScore}, ComplianceStandard, EvidenceHigh},
		{"case insensitive match", &Lead{Niche: "PERSONAL INJURY LAW", Score: 10}, ComplianceRegulated, EvidenceLow},
		{"law as a word", &Lead{Niche: "family-law practice", Score: 10}, ComplianceRegulated, EvidenceLow},
		{"lawn care is not law", &Lead{Niche: "Lawn Care", Score: 10}, ComplianceStandard, EvidenceLow},
		{"flawless is not law", &Lead{Niche: "flawless detailing", Score: 10}, ComplianceStandard, EvidenceLow},
		{"nil lead", nil, ComplianceStandard, EvidenceLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := NewRunContext(tt.lead)
			assert.Equal(t, tt.compliance, rc.ComplianceMode)
			assert.Equal(t, tt.evidence, rc.LeadEvidenceLevel)
			assert.False(t, rc.IdentityStrict)
		})
	}
}

func TestWithIdentityStrict_ReturnsCopy(t *testing.T) {
	rc := NewRunContext(&Lead{Niche: "cafe"})
	strict := rc.WithIdentityStrict(true)

	assert.True(t, strict.IdentityStrict)
	assert.False(t, rc.IdentityStrict)
}
