package crm

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradewindhq/tradewind/internal/pkg/restclient"
	"github.com/tradewindhq/tradewind/internal/pkg/retry"
)

// fakeAPI is an in-memory CRM with scriptable conflicts.
type fakeAPI struct {
	records map[string]*Record // key: entityType:externalID
	nextID  int

	findCalls   int
	createCalls int
	updateCalls int

	failUpdatesWith409 int
	failCreatesWith409 int
	hideOnLookup       int // lookups that report not-found despite a record existing
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string]*Record)}
}

func conflictErr() *restclient.APIError {
	return &restclient.APIError{
		Code:   restclient.ErrOperationFailed,
		Status: http.StatusConflict,
	}
}

func (f *fakeAPI) FindByExternalID(_ context.Context, entityType, externalID string) (*Record, *restclient.APIError) {
	f.findCalls++
	if f.hideOnLookup > 0 {
		f.hideOnLookup--
		return nil, nil
	}
	rec, ok := f.records[entityType+":"+externalID]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (f *fakeAPI) Create(_ context.Context, entityType string, fields map[string]interface{}) (*Record, *restclient.APIError) {
	f.createCalls++
	if f.failCreatesWith409 > 0 {
		f.failCreatesWith409--
		return nil, conflictErr()
	}
	externalID, _ := fields["externalId"].(string)
	key := entityType + ":" + externalID
	if _, exists := f.records[key]; exists {
		return nil, conflictErr()
	}
	f.nextID++
	rec := &Record{
		ID:         fmt.Sprintf("crm-%d", f.nextID),
		ExternalID: externalID,
		Fields:     fields,
	}
	f.records[key] = rec
	return rec, nil
}

func (f *fakeAPI) Update(_ context.Context, entityType, crmID string, fields map[string]interface{}) (*Record, *restclient.APIError) {
	f.updateCalls++
	if f.failUpdatesWith409 > 0 {
		f.failUpdatesWith409--
		return nil, conflictErr()
	}
	for _, rec := range f.records {
		if rec.ID == crmID {
			rec.Fields = fields
			return rec, nil
		}
	}
	return nil, &restclient.APIError{Code: restclient.ErrNotFound, Status: http.StatusNotFound}
}

func fastBackoff() SyncOption {
	return WithConflictBackoff(retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestUpsertCompanyRoundTrip(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())
	ctx := context.Background()

	first, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.False(t, first.Updated)
	assert.NotEmpty(t, first.ID)

	second, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme Inc"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.True(t, second.Updated)
	assert.Equal(t, first.ID, second.ID)
}

func TestUpsertCompanyValidation(t *testing.T) {
	svc := NewSyncService(newFakeAPI(), fastBackoff())

	_, err := svc.UpsertCompany(context.Background(), CompanyInput{Name: "No External ID"})
	require.Error(t, err)
	apiErr, ok := err.(*restclient.APIError)
	require.True(t, ok)
	assert.Equal(t, restclient.ErrValidation, apiErr.Code)
}

func TestUpsertCompanyCacheSkipsLookup(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())
	ctx := context.Background()

	_, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)
	lookupsAfterCreate := api.findCalls

	_, err = svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme v2"})
	require.NoError(t, err)
	assert.Equal(t, lookupsAfterCreate, api.findCalls, "cached id should skip the provider lookup")
}

func TestUpdateConflictInvalidatesAndRetries(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())
	ctx := context.Background()

	_, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)

	api.failUpdatesWith409 = 1
	res, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme v2"})
	require.NoError(t, err)
	assert.True(t, res.Updated)
	// Conflict forced a fresh lookup before the successful retry.
	assert.GreaterOrEqual(t, api.findCalls, 2)
}

func TestCreateConflictFallsBackToUpdate(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())
	ctx := context.Background()

	// The record exists remotely but the first lookup misses it, simulating a
	// concurrent writer landing between our lookup and create.
	api.records[EntityCompany+":c1"] = &Record{ID: "crm-9", ExternalID: "c1"}
	api.hideOnLookup = 1

	res, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.False(t, res.Created)
	assert.Equal(t, "crm-9", res.ID)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff(), WithMaxConflictRetries(2))
	ctx := context.Background()

	_, err := svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)

	api.failUpdatesWith409 = 100
	_, err = svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme v2"})
	require.Error(t, err)
	apiErr, ok := err.(*restclient.APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	// initial attempt + 2 bounded retries
	assert.Equal(t, 3, api.updateCalls)
}

func TestUpsertPersonResolvesLinkedCompany(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())
	ctx := context.Background()

	res, err := svc.UpsertPerson(ctx, PersonInput{
		ExternalID:        "p1",
		Email:             "jo@example.com",
		FirstName:         "Jo",
		CompanyExternalID: "c1",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)

	company, apiErr := api.FindByExternalID(ctx, EntityCompany, "c1")
	require.Nil(t, apiErr)
	require.NotNil(t, company, "linked company should have been created first")

	person := api.records[EntityPerson+":p1"]
	require.NotNil(t, person)
	assert.Equal(t, company.ID, person.Fields["companyId"])
}

func TestUpsertPersonLeavesExistingCompanyUntouched(t *testing.T) {
	api := newFakeAPI()
	ctx := context.Background()

	seed := NewSyncService(api, fastBackoff())
	_, err := seed.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme", DomainName: "acme.example"})
	require.NoError(t, err)

	// Fresh service, cold cache: the person path has to resolve the company
	// through the API and must not rewrite it.
	svc := NewSyncService(api, fastBackoff())
	res, err := svc.UpsertPerson(ctx, PersonInput{
		ExternalID:        "p1",
		Email:             "jo@example.com",
		CompanyExternalID: "c1",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 0, api.updateCalls, "resolving a linked company must never update it")

	company := api.records[EntityCompany+":c1"]
	require.NotNil(t, company)
	assert.Equal(t, "Acme", company.Fields["name"])
	assert.NotNil(t, company.Fields["domainName"])

	person := api.records[EntityPerson+":p1"]
	require.NotNil(t, person)
	assert.Equal(t, company.ID, person.Fields["companyId"])
}

func TestUpsertPersonAdoptsConcurrentlyCreatedCompany(t *testing.T) {
	api := newFakeAPI()
	ctx := context.Background()

	seed := NewSyncService(api, fastBackoff())
	_, err := seed.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)

	// The lookup misses but the create conflicts, as when another writer
	// lands the company between our lookup and create.
	api.hideOnLookup = 1
	svc := NewSyncService(api, fastBackoff())
	res, err := svc.UpsertPerson(ctx, PersonInput{
		ExternalID:        "p1",
		Email:             "jo@example.com",
		CompanyExternalID: "c1",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 0, api.updateCalls)

	company := api.records[EntityCompany+":c1"]
	assert.Equal(t, "Acme", company.Fields["name"])
	assert.Equal(t, company.ID, api.records[EntityPerson+":p1"].Fields["companyId"])
}

func TestUpsertStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	api := newFakeAPI()
	svc := NewSyncService(api, fastBackoff())

	_, err := svc.UpsertCompany(context.Background(), CompanyInput{ExternalID: "c1", Name: "Acme"})
	require.NoError(t, err)

	api.failUpdatesWith409 = 10
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.UpsertCompany(ctx, CompanyInput{ExternalID: "c1", Name: "Acme Inc"})
	require.Error(t, err)
	apiErr, ok := err.(*restclient.APIError)
	require.True(t, ok)
	assert.Equal(t, restclient.ErrNetwork, apiErr.Code)
	assert.Equal(t, 1, api.updateCalls, "no further attempts after cancellation")
}

func TestUpsertPersonRequiresEmail(t *testing.T) {
	svc := NewSyncService(newFakeAPI(), fastBackoff())

	_, err := svc.UpsertPerson(context.Background(), PersonInput{ExternalID: "p1"})
	require.Error(t, err)
	apiErr, ok := err.(*restclient.APIError)
	require.True(t, ok)
	assert.Equal(t, restclient.ErrValidation, apiErr.Code)
}
