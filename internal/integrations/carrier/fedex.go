package carrier

import "github.com/BearBump/trackengine/internal/models"

// FedEx uses two-letter scan event codes.
func fedexAdapter() *adapter {
	return &adapter{
		name: models.CarrierFedEx,
		codes: map[string]models.Status{
			"oc": models.StatusConfirmed,
			"pu": models.StatusPickedUp,
			"it": models.StatusInTransit,
			"ar": models.StatusInTransit,
			"dp": models.StatusInTransit,
			"hl": models.StatusInTransit,
			"od": models.StatusOutForDelivery,
			"dl": models.StatusDelivered,
			"de": models.StatusException,
			"se": models.StatusException,
			"ca": models.StatusCancelled,
			"rs": models.StatusReturned,
			"dy": models.StatusDelayed,
			"dd": models.StatusDelayed,
		},
		numberKeys:  []string{"trackingNumber", "trackingNumberInfo"},
		statusKeys:  []string{"status", "eventType", "derivedStatusCode"},
		timeKeys:    []string{"timestamp", "scanDateTime"},
		timeLayouts: []string{"2006-01-02T15:04:05"},
	}
}
