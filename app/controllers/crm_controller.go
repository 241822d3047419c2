package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tradewindhq/tradewind/internal/pkg/crm"
	"github.com/tradewindhq/tradewind/internal/pkg/restclient"
)

const crmRequestTimeout = 30 * time.Second

// CRMController exposes the CRM upsert operations to internal callers. The
// sync service is injected at startup.
type CRMController struct {
	sync *crm.SyncService
}

func NewCRMController(sync *crm.SyncService) *CRMController {
	return &CRMController{sync: sync}
}

// HandleUpsertCompany creates or updates a CRM company keyed by external id.
func (cc *CRMController) HandleUpsertCompany(c *fiber.Ctx) error {
	var in crm.CompanyInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), crmRequestTimeout)
	defer cancel()

	res, err := cc.sync.UpsertCompany(ctx, in)
	if err != nil {
		return crmErrorResponse(c, err)
	}
	return c.Status(upsertStatus(res)).JSON(res)
}

// HandleUpsertPerson creates or updates a CRM person keyed by external id,
// resolving the linked company first when one is referenced.
func (cc *CRMController) HandleUpsertPerson(c *fiber.Ctx) error {
	var in crm.PersonInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), crmRequestTimeout)
	defer cancel()

	res, err := cc.sync.UpsertPerson(ctx, in)
	if err != nil {
		return crmErrorResponse(c, err)
	}
	return c.Status(upsertStatus(res)).JSON(res)
}

func upsertStatus(res crm.UpsertResult) int {
	if res.Created {
		return fiber.StatusCreated
	}
	return fiber.StatusOK
}

// crmErrorResponse maps the structured CRM error onto an HTTP answer without
// leaking upstream response bodies to the caller.
func crmErrorResponse(c *fiber.Ctx, err error) error {
	var apiErr *restclient.APIError
	if !errors.As(err, &apiErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "crm_sync_failed"})
	}

	status := fiber.StatusBadGateway
	switch apiErr.Code {
	case restclient.ErrValidation:
		status = fiber.StatusUnprocessableEntity
	case restclient.ErrAuth:
		status = fiber.StatusInternalServerError
	case restclient.ErrTimeout, restclient.ErrNetwork:
		status = fiber.StatusGatewayTimeout
	case restclient.ErrRateLimit:
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(fiber.Map{
		"error":     apiErr.Code,
		"message":   apiErr.Message,
		"retryable": apiErr.IsRetryable,
	})
}
