package carrier

import "github.com/BearBump/trackengine/internal/models"

// UPS sends either activity status type letters or descriptive codes.
func upsAdapter() *adapter {
	return &adapter{
		name: models.CarrierUPS,
		codes: map[string]models.Status{
			"m":                models.StatusPending,
			"manifest":         models.StatusPending,
			"label_created":    models.StatusPending,
			"order_processed":  models.StatusConfirmed,
			"mv":               models.StatusCancelled,
			"voided":           models.StatusCancelled,
			"p":                models.StatusPickedUp,
			"pickup":           models.StatusPickedUp,
			"picked_up":        models.StatusPickedUp,
			"i":                models.StatusInTransit,
			"in_transit":       models.StatusInTransit,
			"o":                models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"d":                models.StatusDelivered,
			"delivered":        models.StatusDelivered,
			"x":                models.StatusException,
			"exception":        models.StatusException,
			"rs":               models.StatusReturned,
			"returned":         models.StatusReturned,
			"delayed":          models.StatusDelayed,
		},
		numberKeys:  []string{"trackingNumber", "inquiryNumber"},
		statusKeys:  []string{"status", "statusCode", "activityStatus"},
		timeKeys:    []string{"timestamp", "activityDateTime"},
		timeLayouts: []string{"20060102150405", "20060102"},
	}
}
