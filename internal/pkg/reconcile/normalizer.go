package reconcile

import (
	"encoding/json"
	"net/url"
	"strings"
)

// EventTypePayment is the only notification kind that drives reconciliation.
const EventTypePayment = "payment"

// Notification is the canonical form of an inbound gateway notification.
type Notification struct {
	EventType string
	PaymentID string
}

// flexID tolerates gateway payloads where the id is sometimes a JSON number
// and sometimes a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	// Unrecognized shape: treat as absent rather than failing the parse.
	*f = ""
	return nil
}

// ParseNotification normalizes the historical notification shapes into a
// canonical pair. The current gateway version posts {"type":..,"data":{"id":..}};
// older versions post a bare {"type","id"} body or carry everything in query
// parameters (topic/type plus data.id or id). It reports ok=false for empty,
// malformed or non-actionable input; normalization never fails with an error
// because the boundary acknowledges receipt regardless.
func ParseNotification(body []byte, query url.Values) (Notification, bool) {
	var n Notification

	if len(body) > 0 {
		var parsed struct {
			Type string `json:"type"`
			ID   flexID `json:"id"`
			Data struct {
				ID flexID `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			n.EventType = strings.TrimSpace(parsed.Type)
			n.PaymentID = strings.TrimSpace(string(parsed.Data.ID))
			if n.PaymentID == "" {
				n.PaymentID = strings.TrimSpace(string(parsed.ID))
			}
		}
	}

	if n.EventType == "" {
		n.EventType = strings.TrimSpace(query.Get("type"))
	}
	if n.EventType == "" {
		n.EventType = strings.TrimSpace(query.Get("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = strings.TrimSpace(query.Get("data.id"))
	}
	if n.PaymentID == "" {
		n.PaymentID = strings.TrimSpace(query.Get("id"))
	}

	if n.EventType != EventTypePayment || n.PaymentID == "" {
		return Notification{}, false
	}
	return n, true
}
