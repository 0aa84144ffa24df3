package carrier

import "github.com/BearBump/trackengine/internal/models"

// USPS reports human-readable status categories.
func uspsAdapter() *adapter {
	return &adapter{
		name: models.CarrierUSPS,
		codes: map[string]models.Status{
			"pre_shipment":         models.StatusConfirmed,
			"accepted":             models.StatusPickedUp,
			"in_transit":           models.StatusInTransit,
			"out_for_delivery":     models.StatusOutForDelivery,
			"available_for_pickup": models.StatusOutForDelivery,
			"delivered":            models.StatusDelivered,
			"alert":                models.StatusException,
			"delivery_attempt":     models.StatusException,
			"return_to_sender":     models.StatusReturned,
			"delayed":              models.StatusDelayed,
		},
		numberKeys:  []string{"trackingNumber", "trackID"},
		statusKeys:  []string{"status", "statusCategory"},
		timeKeys:    []string{"timestamp", "eventTimestamp"},
		timeLayouts: []string{"2006-01-02 15:04:05", "January 2, 2006 3:04 pm"},
	}
}
