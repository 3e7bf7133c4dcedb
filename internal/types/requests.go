package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// StartRunRequest asks the orchestrator to start a run. An empty LeadID lets the
// orchestrator pick the highest scoring eligible lead.
type StartRunRequest struct {
	LeadID string  `json:"lead_id,omitempty" validate:"omitempty,max=128"`
	Mode   RunMode `json:"mode,omitempty" validate:"omitempty,oneof=full lite"`
}

// Validate validates the StartRunRequest using the validator.
func (r *StartRunRequest) Validate() error {
	return validate.Struct(r)
}

// LeadInput is one incoming record of a lead import.
type LeadInput struct {
	ID           string  `json:"id,omitempty" validate:"omitempty,max=128"`
	BusinessName string  `json:"businessName" validate:"required,min=1"`
	WebsiteURL   string  `json:"websiteUrl,omitempty" validate:"omitempty,url"`
	Niche        string  `json:"niche,omitempty"`
	Locale       string  `json:"locale,omitempty"`
	Score        float64 `json:"score" validate:"gte=0,lte=100"`
	Status       string  `json:"status,omitempty"`
}

// UpsertLeadsRequest carries a batch of lead records to merge into the lead list.
type UpsertLeadsRequest struct {
	Leads []LeadInput `json:"leads" validate:"required,min=1,dive"`
}

// Validate validates the UpsertLeadsRequest using the validator.
func (r *UpsertLeadsRequest) Validate() error {
	return validate.Struct(r)
}

// ToLeads converts the request records into leads.
func (r *UpsertLeadsRequest) ToLeads() []Lead {
	leads := make([]Lead, 0, len(r.Leads))
	for _, in := range r.Leads {
		leads = append(leads, Lead{
			ID:           in.ID,
			BusinessName: in.BusinessName,
			WebsiteURL:   in.WebsiteURL,
			Niche:        in.Niche,
			Locale:       in.Locale,
			Score:        in.Score,
			Status:       in.Status,
		})
	}
	return leads
}
