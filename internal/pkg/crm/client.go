package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tradewindhq/tradewind/internal/pkg/env"
	"github.com/tradewindhq/tradewind/internal/pkg/restclient"
	"github.com/tradewindhq/tradewind/internal/pkg/retry"
)

// API is the narrow CRM surface the sync service needs. A nil Record with a
// nil error means "not found".
type API interface {
	FindByExternalID(ctx context.Context, entityType, externalID string) (*Record, *restclient.APIError)
	Create(ctx context.Context, entityType string, fields map[string]interface{}) (*Record, *restclient.APIError)
	Update(ctx context.Context, entityType, crmID string, fields map[string]interface{}) (*Record, *restclient.APIError)
}

// TwentyClient talks to the Twenty CRM REST API.
type TwentyClient struct {
	rest *restclient.Client
}

// NewTwentyClientFromEnv builds a client from TWENTY_* environment settings.
func NewTwentyClientFromEnv() *TwentyClient {
	cfg := restclient.Config{
		BaseURL: strings.TrimRight(env.GetEnv("TWENTY_API_BASE_URL", "http://localhost:3000/rest"), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("TWENTY_API_KEY", "")),
		Timeout: env.GetEnvDuration("TWENTY_API_TIMEOUT", 30*time.Second),
		Retry: retry.Config{
			MaxRetries:     env.GetEnvInt("TWENTY_API_MAX_RETRIES", 3),
			InitialBackoff: env.GetEnvDuration("TWENTY_API_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     env.GetEnvDuration("TWENTY_API_MAX_BACKOFF", 10*time.Second),
		},
	}
	return NewTwentyClient(restclient.New("twenty", cfg))
}

// NewTwentyClient wraps an already configured REST client.
func NewTwentyClient(rest *restclient.Client) *TwentyClient {
	return &TwentyClient{rest: rest}
}

// resourceName maps the internal entity type to the Twenty REST resource.
func resourceName(entityType string) string {
	if entityType == EntityPerson {
		return "people"
	}
	return "companies"
}

func createdKey(entityType string) string {
	if entityType == EntityPerson {
		return "createPerson"
	}
	return "createCompany"
}

func updatedKey(entityType string) string {
	if entityType == EntityPerson {
		return "updatePerson"
	}
	return "updateCompany"
}

// filterEscaper keeps quotes and backslashes in external ids from breaking
// out of the quoted filter term.
var filterEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func externalIDFilter(externalID string) string {
	return fmt.Sprintf(`externalId[eq]:"%s"`, filterEscaper.Replace(externalID))
}

func (c *TwentyClient) FindByExternalID(ctx context.Context, entityType, externalID string) (*Record, *restclient.APIError) {
	resource := resourceName(entityType)
	path := fmt.Sprintf("/%s?filter=%s&limit=1", resource, url.QueryEscape(externalIDFilter(externalID)))

	res := c.rest.Get(ctx, path, nil)
	if !res.Success {
		if res.Error.Code == restclient.ErrNotFound {
			return nil, nil
		}
		return nil, res.Error
	}

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(res.Data, &envelope); err != nil {
		return nil, &restclient.APIError{Code: restclient.ErrUnknown, Message: "unexpected list response shape"}
	}
	var rows []map[string]interface{}
	if raw, ok := envelope.Data[resource]; ok {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &restclient.APIError{Code: restclient.ErrUnknown, Message: "unexpected list payload"}
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return recordFromFields(rows[0]), nil
}

func (c *TwentyClient) Create(ctx context.Context, entityType string, fields map[string]interface{}) (*Record, *restclient.APIError) {
	res := c.rest.Post(ctx, "/"+resourceName(entityType), fields, nil)
	if !res.Success {
		return nil, res.Error
	}
	return decodeSingle(res.Data, createdKey(entityType))
}

func (c *TwentyClient) Update(ctx context.Context, entityType, crmID string, fields map[string]interface{}) (*Record, *restclient.APIError) {
	res := c.rest.Put(ctx, fmt.Sprintf("/%s/%s", resourceName(entityType), crmID), fields, nil)
	if !res.Success {
		return nil, res.Error
	}
	return decodeSingle(res.Data, updatedKey(entityType))
}

func decodeSingle(payload json.RawMessage, key string) (*Record, *restclient.APIError) {
	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &restclient.APIError{Code: restclient.ErrUnknown, Message: "unexpected write response shape"}
	}
	raw, ok := envelope.Data[key]
	if !ok {
		// Some deployments return the record directly under data.
		var fields map[string]interface{}
		if err := json.Unmarshal(payload, &struct {
			Data *map[string]interface{} `json:"data"`
		}{&fields}); err == nil && fields["id"] != nil {
			return recordFromFields(fields), nil
		}
		return nil, &restclient.APIError{Code: restclient.ErrUnknown, Message: "write response missing record"}
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &restclient.APIError{Code: restclient.ErrUnknown, Message: "write response record malformed"}
	}
	return recordFromFields(fields), nil
}

func recordFromFields(fields map[string]interface{}) *Record {
	rec := &Record{Fields: fields}
	if id, ok := fields["id"].(string); ok {
		rec.ID = id
	}
	if ext, ok := fields["externalId"].(string); ok {
		rec.ExternalID = ext
	}
	return rec
}
