package crm

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
	"github.com/tradewindhq/tradewind/internal/pkg/restclient"
	"github.com/tradewindhq/tradewind/internal/pkg/retry"
)

const (
	defaultCacheTTL           = 5 * time.Minute
	defaultMaxConflictRetries = 3
)

// SyncService makes "ensure this entity exists and is current in the CRM"
// idempotent. See package doc for the concurrency contract.
type SyncService struct {
	api                API
	cache              *entityCache
	cacheTTL           time.Duration
	maxConflictRetries int
	backoff            retry.Config
}

// SyncOption tweaks a SyncService.
type SyncOption func(*SyncService)

func WithCacheTTL(ttl time.Duration) SyncOption {
	return func(s *SyncService) { s.cacheTTL = ttl }
}

func WithMaxConflictRetries(n int) SyncOption {
	return func(s *SyncService) { s.maxConflictRetries = n }
}

func WithConflictBackoff(cfg retry.Config) SyncOption {
	return func(s *SyncService) { s.backoff = cfg }
}

// NewSyncService creates a sync service over the given CRM API.
func NewSyncService(api API, opts ...SyncOption) *SyncService {
	s := &SyncService{
		api:                api,
		cache:              newEntityCache(),
		cacheTTL:           defaultCacheTTL,
		maxConflictRetries: defaultMaxConflictRetries,
		backoff: retry.Config{
			MaxRetries:     defaultMaxConflictRetries,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertCompany creates or updates the CRM company keyed by ExternalID.
func (s *SyncService) UpsertCompany(ctx context.Context, in CompanyInput) (UpsertResult, error) {
	if err := in.Validate(); err != nil {
		return UpsertResult{}, &restclient.APIError{
			Code:    restclient.ErrValidation,
			Message: err.Error(),
		}
	}
	return s.upsert(ctx, EntityCompany, in.ExternalID, companyFields(in))
}

// UpsertPerson creates or updates the CRM person keyed by ExternalID. A
// supplied CompanyExternalID is resolved first; the linked company is created
// as a bare shell if the CRM does not know it yet.
func (s *SyncService) UpsertPerson(ctx context.Context, in PersonInput) (UpsertResult, error) {
	if err := in.Validate(); err != nil {
		return UpsertResult{}, &restclient.APIError{
			Code:    restclient.ErrValidation,
			Message: err.Error(),
		}
	}

	fields := personFields(in)
	if in.CompanyExternalID != "" {
		companyID, err := s.resolveCompany(ctx, in.CompanyExternalID)
		if err != nil {
			return UpsertResult{}, err
		}
		fields["companyId"] = companyID
	}

	return s.upsert(ctx, EntityPerson, in.ExternalID, fields)
}

// resolveCompany returns the CRM id of the company with the given external
// id, creating a shell record only when no company exists yet. An existing
// company is never written from here; its real fields stay intact.
func (s *SyncService) resolveCompany(ctx context.Context, externalID string) (string, error) {
	if id, ok := s.cache.Get(EntityCompany, externalID, s.cacheTTL); ok {
		return id, nil
	}

	rec, apiErr := s.api.FindByExternalID(ctx, EntityCompany, externalID)
	if apiErr != nil {
		return "", apiErr
	}
	if rec != nil {
		s.cache.Put(EntityCompany, externalID, rec.ID)
		return rec.ID, nil
	}

	rec, apiErr = s.api.Create(ctx, EntityCompany, map[string]interface{}{
		"externalId": externalID,
		"name":       externalID,
	})
	if apiErr == nil {
		s.cache.Put(EntityCompany, externalID, rec.ID)
		return rec.ID, nil
	}
	if apiErr.Status == http.StatusConflict {
		// Another writer created the company concurrently; adopt their row.
		rec, lookupErr := s.api.FindByExternalID(ctx, EntityCompany, externalID)
		if lookupErr != nil {
			return "", lookupErr
		}
		if rec != nil {
			s.cache.Put(EntityCompany, externalID, rec.ID)
			return rec.ID, nil
		}
	}
	return "", apiErr
}

// InvalidateCache drops the cached CRM id for one entity. Exposed for the
// rare operator path where the CRM record was deleted out of band.
func (s *SyncService) InvalidateCache(entityType, externalID string) {
	s.cache.Invalidate(entityType, externalID)
}

// upsert is the lookup-and-write sequence with 409 recovery. forceLookup
// bypasses the cache after a create conflict, because the conflicting row was
// written by another writer and is not in our cache yet.
func (s *SyncService) upsert(ctx context.Context, entityType, externalID string, fields map[string]interface{}) (UpsertResult, error) {
	forceLookup := false

	var lastErr *restclient.APIError
	for attempt := 0; attempt <= s.maxConflictRetries; attempt++ {
		if attempt > 0 {
			if waitErr := retry.Wait(ctx, retry.Backoff(attempt-1, s.backoff)); waitErr != nil {
				return UpsertResult{}, &restclient.APIError{
					Code:    restclient.ErrNetwork,
					Message: "cancelled during conflict backoff",
				}
			}
		}

		crmID, cached := "", false
		if !forceLookup {
			crmID, cached = s.cache.Get(entityType, externalID, s.cacheTTL)
		}
		if !cached {
			rec, err := s.api.FindByExternalID(ctx, entityType, externalID)
			if err != nil {
				return UpsertResult{}, err
			}
			if rec != nil {
				crmID = rec.ID
				s.cache.Put(entityType, externalID, crmID)
			}
		}
		forceLookup = false

		if crmID != "" {
			rec, err := s.api.Update(ctx, entityType, crmID, fields)
			if err == nil {
				s.cache.Put(entityType, externalID, rec.ID)
				return UpsertResult{ID: rec.ID, ExternalID: externalID, Updated: true, Data: rec.Fields}, nil
			}
			if err.Status == http.StatusConflict {
				// Lost a race against a concurrent writer: the cached id may
				// point at a row that changed underneath us. Re-resolve.
				lastErr = err
				s.cache.Invalidate(entityType, externalID)
				s.logConflict(entityType, externalID, attempt, "update")
				continue
			}
			return UpsertResult{}, err
		}

		rec, err := s.api.Create(ctx, entityType, fields)
		if err == nil {
			s.cache.Put(entityType, externalID, rec.ID)
			return UpsertResult{ID: rec.ID, ExternalID: externalID, Created: true, Data: rec.Fields}, nil
		}
		if err.Status == http.StatusConflict {
			// Another writer created the entity concurrently. Nothing cached
			// to invalidate; force a cache-bypassing lookup and update it.
			lastErr = err
			forceLookup = true
			s.logConflict(entityType, externalID, attempt, "create")
			continue
		}
		return UpsertResult{}, err
	}

	if lastErr == nil {
		lastErr = &restclient.APIError{Code: restclient.ErrOperationFailed, Message: "conflict retries exhausted"}
	}
	return UpsertResult{}, lastErr
}

func (s *SyncService) logConflict(entityType, externalID string, attempt int, op string) {
	logging.LogWarn("crm write conflict, retrying", logrus.Fields{
		"entity_type": entityType,
		"external_id": externalID,
		"operation":   op,
		"attempt":     attempt + 1,
	})
}

func companyFields(in CompanyInput) map[string]interface{} {
	fields := map[string]interface{}{
		"externalId": in.ExternalID,
		"name":       in.Name,
	}
	if in.DomainName != "" {
		fields["domainName"] = map[string]interface{}{"primaryLinkUrl": in.DomainName}
	}
	if in.Address != "" {
		fields["address"] = map[string]interface{}{"addressStreet1": in.Address}
	}
	if in.Employees > 0 {
		fields["employees"] = in.Employees
	}
	return fields
}

func personFields(in PersonInput) map[string]interface{} {
	fields := map[string]interface{}{
		"externalId": in.ExternalID,
		"emails":     map[string]interface{}{"primaryEmail": in.Email},
	}
	if in.FirstName != "" || in.LastName != "" {
		fields["name"] = map[string]interface{}{
			"firstName": in.FirstName,
			"lastName":  in.LastName,
		}
	}
	if in.Phone != "" {
		fields["phones"] = map[string]interface{}{"primaryPhoneNumber": in.Phone}
	}
	if in.JobTitle != "" {
		fields["jobTitle"] = in.JobTitle
	}
	return fields
}
