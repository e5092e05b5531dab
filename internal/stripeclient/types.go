package stripeclient

import (
	"encoding/json"
	"net/url"
)

// Object is one element of a list or retrieve response. Raw carries the full
// provider payload; the envelope fields are parsed eagerly because every
// caller needs them for cursor and dispatch decisions.
type Object struct {
	ID      string
	Object  string
	Deleted bool
	Raw     json.RawMessage
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	o.ID = envelope.ID
	o.Object = envelope.Object
	o.Deleted = envelope.Deleted
	o.Raw = append(o.Raw[:0], data...)
	return nil
}

type ListParams struct {
	StartingAfter string
	Limit         int
	// CreatedGTE filters objects created at or after the given unix time.
	// Zero means no filter.
	CreatedGTE int64
	// Extra carries endpoint-specific list parameters (e.g. status=all).
	Extra url.Values
}

type ListResponse struct {
	Object  string   `json:"object"`
	Data    []Object `json:"data"`
	HasMore bool     `json:"has_more"`
}

type Account struct {
	ID              string            `json:"id"`
	Email           string            `json:"email"`
	Country         string            `json:"country"`
	DefaultCurrency string            `json:"default_currency"`
	Created         int64             `json:"created"`
	Metadata        map[string]string `json:"metadata"`
	BusinessProfile struct {
		Name string `json:"name"`
	} `json:"business_profile"`
	Raw json.RawMessage `json:"-"`
}

type WebhookEndpoint struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	Secret        string            `json:"secret"`
	Description   string            `json:"description"`
	EnabledEvents []string          `json:"enabled_events"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
}

type WebhookEndpointParams struct {
	URL           string
	EnabledEvents []string
	Description   string
	Metadata      map[string]string
}

// Event is the parsed webhook envelope. Account is set only for events
// delivered to a platform (Connect) handler.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Account  string `json:"account"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object             json.RawMessage `json:"object"`
		PreviousAttributes json.RawMessage `json:"previous_attributes"`
	} `json:"data"`
}
