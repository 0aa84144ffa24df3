package carrier

import "github.com/BearBump/trackengine/internal/models"

// DHL unified tracking status codes plus the legacy express checkpoint codes.
func dhlAdapter() *adapter {
	return &adapter{
		name: models.CarrierDHL,
		codes: map[string]models.Status{
			"pre_transit": models.StatusConfirmed,
			"unknown":     models.StatusPending,
			"pu":          models.StatusPickedUp,
			"transit":     models.StatusInTransit,
			"pl":          models.StatusInTransit,
			"wc":          models.StatusOutForDelivery,
			"delivered":   models.StatusDelivered,
			"ok":          models.StatusDelivered,
			"failure":     models.StatusException,
			"rt":          models.StatusReturned,
			"returned":    models.StatusReturned,
			"ca":          models.StatusCancelled,
		},
		numberKeys:  []string{"trackingNumber", "id"},
		statusKeys:  []string{"status", "statusCode"},
		timeKeys:    []string{"timestamp"},
		timeLayouts: []string{"2006-01-02T15:04:05"},
	}
}
