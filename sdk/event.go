package sdk

import "encoding/json"

// CustomEvent is an analytics event reported with Client.AddCustomEvent.
//
// Example:
//
//	client.AddCustomEvent(sdk.CustomEvent{
//	    Key:          "purchase",
//	    Count:        1,
//	    Sum:          sdk.Uint32(25),
//	    Segmentation: map[string]string{"sku": "A1"},
//	})
type CustomEvent struct {
	// Key identifies the event. Required.
	Key string
	// Count is how many times the event happened.
	Count uint32
	// Sum is an optional monetary or numeric total.
	Sum *uint32
	// Duration is an optional duration in seconds. Must be finite.
	Duration *float64
	// Segmentation holds string dimensions. Always sent, nil as {}.
	Segmentation map[string]string
}

type customEventWire struct {
	Key          string            `json:"key"`
	Count        uint32            `json:"count"`
	Sum          *uint32           `json:"sum,omitempty"`
	Duration     *float64          `json:"duration,omitempty"`
	Segmentation map[string]string `json:"segmentation"`
}

func (e CustomEvent) wire(op string) (*customEventWire, error) {
	if e.Duration != nil && !isFinite(*e.Duration) {
		return nil, newSerializationError(op, "duration", ErrNonFiniteNumber)
	}
	seg := e.Segmentation
	if seg == nil {
		seg = map[string]string{}
	}
	return &customEventWire{
		Key:          e.Key,
		Count:        e.Count,
		Sum:          e.Sum,
		Duration:     e.Duration,
		Segmentation: seg,
	}, nil
}

// MarshalJSON renders the event object pushed with add_event.
func (e CustomEvent) MarshalJSON() ([]byte, error) {
	w, err := e.wire(TagAddEvent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UserDetails describes the current visitor. Every field is optional and
// omitted from the wire when empty.
type UserDetails struct {
	Name         string
	Username     string
	Email        string
	Organization string
	Phone        string
	// Picture is a URL to the visitor's avatar.
	Picture string
	// Gender is "M" or "F" by Countly convention; not validated.
	Gender string
	// BirthYear is sent as "byear".
	BirthYear *uint32
	// Custom holds additional string properties.
	Custom map[string]string
}

type userDetailsWire struct {
	Name         string            `json:"name,omitempty"`
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email,omitempty"`
	Organization string            `json:"organization,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Picture      string            `json:"picture,omitempty"`
	Gender       string            `json:"gender,omitempty"`
	BirthYear    *uint32           `json:"byear,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

func (u UserDetails) wire() userDetailsWire {
	return userDetailsWire(u)
}

// MarshalJSON renders the details object pushed with user_details.
func (u UserDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.wire())
}
