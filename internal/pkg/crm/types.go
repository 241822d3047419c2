// Package crm synchronizes marketplace entities (companies, people) into the
// Twenty CRM by external id. Upserts are safe under concurrent writers: write
// conflicts surface as provider-side 409s and are recovered by re-resolving
// the entity, never by client-side locking.
package crm

import "github.com/go-playground/validator/v10"

const (
	EntityCompany = "company"
	EntityPerson  = "person"
)

// CompanyInput describes a company to upsert, keyed by ExternalID.
type CompanyInput struct {
	ExternalID string `json:"external_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	DomainName string `json:"domain_name,omitempty"`
	Address    string `json:"address,omitempty"`
	Employees  int    `json:"employees,omitempty"`
}

// PersonInput describes a person to upsert. When CompanyExternalID is set the
// linked company is resolved (and created if needed) first.
type PersonInput struct {
	ExternalID        string `json:"external_id" validate:"required"`
	Email             string `json:"email" validate:"required,email"`
	FirstName         string `json:"first_name,omitempty"`
	LastName          string `json:"last_name,omitempty"`
	Phone             string `json:"phone,omitempty"`
	JobTitle          string `json:"job_title,omitempty"`
	CompanyExternalID string `json:"company_external_id,omitempty"`
}

// Record is one CRM entity as returned by the provider.
type Record struct {
	ID         string
	ExternalID string
	Fields     map[string]interface{}
}

// UpsertResult reports which write path an upsert took. It is transient and
// never persisted.
type UpsertResult struct {
	ID         string                 `json:"id"`
	ExternalID string                 `json:"external_id"`
	Created    bool                   `json:"created"`
	Updated    bool                   `json:"updated"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

var validate = validator.New()

func (in CompanyInput) Validate() error {
	return validate.Struct(in)
}

func (in PersonInput) Validate() error {
	return validate.Struct(in)
}
