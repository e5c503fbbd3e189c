package services

import (
	"context"
)

// CertData is the structured result of a grading-company cert lookup. The
// scraping itself lives behind the CertLookup interface; here it is an
// opaque collaborator that either returns structured data or a typed
// invalid result.
type CertData struct {
	CertNumber     string `json:"cert_number"`
	IsValid        bool   `json:"is_valid"`
	GradingCompany string `json:"grading_company,omitempty"`
	Grade          string `json:"grade,omitempty"`
	CardName       string `json:"card_name,omitempty"`
	SetName        string `json:"set_name,omitempty"`
	Population     int    `json:"population,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CertLookup resolves a grading certificate number to its cert data.
type CertLookup interface {
	Lookup(ctx context.Context, certNumber string) (*CertData, error)
}
