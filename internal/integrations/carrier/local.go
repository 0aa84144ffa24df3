package carrier

import "github.com/BearBump/trackengine/internal/models"

// Local couriers and custom integrations report canonical names, with a few aliases.
func localAdapter(name models.CarrierName) *adapter {
	codes := map[string]models.Status{
		"dispatched": models.StatusPickedUp,
		"shipped":    models.StatusInTransit,
		"failed":     models.StatusException,
	}
	for _, s := range []models.Status{
		models.StatusPending, models.StatusConfirmed, models.StatusPickedUp, models.StatusInTransit,
		models.StatusOutForDelivery, models.StatusDelivered, models.StatusException,
		models.StatusReturned, models.StatusCancelled, models.StatusDelayed,
	} {
		codes[string(s)] = s
	}
	return &adapter{
		name:        name,
		codes:       codes,
		numberKeys:  []string{"trackingNumber"},
		statusKeys:  []string{"status"},
		timeKeys:    []string{"timestamp"},
		timeLayouts: []string{"2006-01-02 15:04:05"},
	}
}
