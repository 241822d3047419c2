package controllers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradewindhq/tradewind/internal/pkg/crm"
	"github.com/tradewindhq/tradewind/internal/pkg/restclient"
)

type memCRM struct {
	records map[string]*crm.Record // entityType/externalID
}

func newMemCRM() *memCRM {
	return &memCRM{records: make(map[string]*crm.Record)}
}

func (m *memCRM) FindByExternalID(ctx context.Context, entityType, externalID string) (*crm.Record, *restclient.APIError) {
	rec, ok := m.records[entityType+"/"+externalID]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (m *memCRM) Create(ctx context.Context, entityType string, fields map[string]interface{}) (*crm.Record, *restclient.APIError) {
	externalID, _ := fields["externalId"].(string)
	rec := &crm.Record{ID: uuid.NewString(), ExternalID: externalID, Fields: fields}
	m.records[entityType+"/"+externalID] = rec
	return rec, nil
}

func (m *memCRM) Update(ctx context.Context, entityType, crmID string, fields map[string]interface{}) (*crm.Record, *restclient.APIError) {
	for _, rec := range m.records {
		if rec.ID == crmID {
			rec.Fields = fields
			return rec, nil
		}
	}
	return nil, &restclient.APIError{Code: restclient.ErrNotFound, Message: "no such record", Status: http.StatusNotFound}
}

func newCRMTestApp(api crm.API) *fiber.App {
	cc := NewCRMController(crm.NewSyncService(api))
	app := fiber.New()
	app.Post("/api/v1/crm/companies/upsert", cc.HandleUpsertCompany)
	app.Post("/api/v1/crm/people/upsert", cc.HandleUpsertPerson)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestUpsertCompanyCreatesThenUpdates(t *testing.T) {
	api := newMemCRM()
	app := newCRMTestApp(api)

	resp := postJSON(t, app, "/api/v1/crm/companies/upsert", `{"external_id":"acct_1","name":"Acme"}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "acct_1", body["external_id"])

	resp = postJSON(t, app, "/api/v1/crm/companies/upsert", `{"external_id":"acct_1","name":"Acme Corp"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["updated"])
	assert.Len(t, api.records, 1)
}

func TestUpsertCompanyValidation(t *testing.T) {
	app := newCRMTestApp(newMemCRM())

	resp := postJSON(t, app, "/api/v1/crm/companies/upsert", `{"name":"Acme"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(restclient.ErrValidation), decodeBody(t, resp)["error"])
}

func TestUpsertPersonCreatesLinkedCompany(t *testing.T) {
	api := newMemCRM()
	app := newCRMTestApp(api)

	resp := postJSON(t, app, "/api/v1/crm/people/upsert",
		`{"external_id":"user_1","email":"jo@example.com","first_name":"Jo","company_external_id":"acct_1"}`)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.NotNil(t, api.records[crm.EntityPerson+"/user_1"])
	company := api.records[crm.EntityCompany+"/acct_1"]
	require.NotNil(t, company, "the referenced company is created on demand")
}

func TestUpsertPersonRequiresEmail(t *testing.T) {
	app := newCRMTestApp(newMemCRM())

	resp := postJSON(t, app, "/api/v1/crm/people/upsert", `{"external_id":"user_1"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpsertCompanyRejectsMalformedBody(t *testing.T) {
	app := newCRMTestApp(newMemCRM())

	resp := postJSON(t, app, "/api/v1/crm/companies/upsert", `{"external_id":`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
