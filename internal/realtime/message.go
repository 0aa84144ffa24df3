package realtime

import "encoding/json"

type EventType string

const (
	EventConnected       EventType = "connected"
	EventTrackingUpdate  EventType = "tracking_update"
	EventOrderUpdate     EventType = "order_update"
	EventAnalyticsUpdate EventType = "analytics_update"
	EventNotification    EventType = "notification"
	EventError           EventType = "error"
)

// Message is one server event. Data is kept encoded so it crosses the Redis bus unchanged.
type Message struct {
	Topic string          `json:"topic,omitempty"`
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type CommandType string

const (
	CmdSubscribeTracking   CommandType = "subscribe_tracking"
	CmdUnsubscribeTracking CommandType = "unsubscribe_tracking"
	CmdSubscribeOrders     CommandType = "subscribe_orders"
	CmdSubscribeAnalytics  CommandType = "subscribe_analytics"
)

type Command struct {
	Type       CommandType `json:"type"`
	TrackingID string      `json:"trackingId,omitempty"`
}

const (
	OrdersAllTopic = "orders:all"
	AnalyticsTopic = "analytics"
)

func TrackingTopic(trackingID string) string { return "tracking:" + trackingID }
func OrdersTopic(userID string) string       { return "orders:" + userID }
