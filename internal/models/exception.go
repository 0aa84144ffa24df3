package models

import "time"

type ExceptionType string

const (
	ExceptionDeliveryFailed       ExceptionType = "delivery_failed"
	ExceptionAddressIssue         ExceptionType = "address_issue"
	ExceptionWeatherDelay         ExceptionType = "weather_delay"
	ExceptionDamaged              ExceptionType = "damaged"
	ExceptionLost                 ExceptionType = "lost"
	ExceptionCustomsDelay         ExceptionType = "customs_delay"
	ExceptionRecipientUnavailable ExceptionType = "recipient_unavailable"
	ExceptionOther                ExceptionType = "other"
)

func (t ExceptionType) Valid() bool {
	switch t {
	case ExceptionDeliveryFailed, ExceptionAddressIssue, ExceptionWeatherDelay, ExceptionDamaged,
		ExceptionLost, ExceptionCustomsDelay, ExceptionRecipientUnavailable, ExceptionOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Exception struct {
	ID          string        `json:"id"`
	Type        ExceptionType `json:"type"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	ReportedAt  time.Time     `json:"reportedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
	Resolution  string        `json:"resolution,omitempty"`
	IsResolved  bool          `json:"isResolved"`
}

type ExceptionInput struct {
	Type        ExceptionType
	Description string
	Severity    Severity
}
