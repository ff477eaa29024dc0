package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitacare/concierge/internal/store"
)

// ServicePriceTool answers "quanto custa" from the service catalog.
type ServicePriceTool struct {
	services store.ServiceStore
}

func NewServicePriceTool(services store.ServiceStore) *ServicePriceTool {
	return &ServicePriceTool{services: services}
}

func (t *ServicePriceTool) Name() string { return "get_service_price" }

func (t *ServicePriceTool) Description() string {
	return "Look up the price and duration of a clinic service by name."
}

func (t *ServicePriceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"service_name": map[string]interface{}{
				"type":        "string",
				"description": "Service or exam name, e.g. 'consulta cardiologia'.",
			},
		},
		"required": []string{"service_name"},
	}
}

func (t *ServicePriceTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	name, _ := args["service_name"].(string)
	if name == "" {
		return ErrorResult("service_name is required")
	}

	svc, err := t.services.FindByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		// Offer the catalog so the model can ask a better question.
		active, listErr := t.services.ListActive(ctx)
		if listErr != nil {
			return ErrorResult("service catalog unavailable").WithError(listErr)
		}
		names := make([]string, 0, len(active))
		for _, s := range active {
			names = append(names, s.Name)
		}
		return jsonResult(map[string]interface{}{
			"found":              false,
			"available_services": names,
		})
	}
	if err != nil {
		return ErrorResult("service catalog unavailable").WithError(err)
	}

	return jsonResult(map[string]interface{}{
		"found":            true,
		"name":             svc.Name,
		"price":            fmt.Sprintf("R$ %d,%02d", svc.PriceCents/100, svc.PriceCents%100),
		"duration_minutes": svc.DurationMinutes,
		"description":      svc.Description,
	})
}
