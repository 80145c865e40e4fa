package api

import (
	"errors"
	"fmt"

	"github.com/birbparty/countly-nest/sdk"
)

// SessionRequest drives the session operations
type SessionRequest struct {
	// Action is one of track, begin, extend, end, end_after
	Action      string  `json:"action"`
	NoHeartbeat bool    `json:"no_heartbeat,omitempty"`
	Seconds     float64 `json:"seconds,omitempty"`
}

// PageviewRequest tracks a page view. Name and Filter are optional.
type PageviewRequest struct {
	Name   string   `json:"name,omitempty"`
	Filter []string `json:"filter,omitempty"`
}

// EventRequest is a custom event
type EventRequest struct {
	Key          string            `json:"key"`
	Count        *uint32           `json:"count,omitempty"`
	Sum          *uint32           `json:"sum,omitempty"`
	Duration     *float64          `json:"duration,omitempty"`
	Segmentation map[string]string `json:"segmentation,omitempty"`
}

// ToCustomEvent converts the request, defaulting Count to 1
func (r *EventRequest) ToCustomEvent() (sdk.CustomEvent, error) {
	if r.Key == "" {
		return sdk.CustomEvent{}, errors.New("event key is required")
	}
	count := uint32(1)
	if r.Count != nil {
		count = *r.Count
	}
	return sdk.CustomEvent{
		Key:          r.Key,
		Count:        count,
		Sum:          r.Sum,
		Duration:     r.Duration,
		Segmentation: r.Segmentation,
	}, nil
}

// UserDetailsRequest describes the visitor
type UserDetailsRequest struct {
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

// ToUserDetails converts the request
func (r *UserDetailsRequest) ToUserDetails() sdk.UserDetails {
	return sdk.UserDetails{
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Organization: r.Organization,
		Phone:        r.Phone,
		Picture:      r.Picture,
		Gender:       r.Gender,
		BirthYear:    r.BirthYear,
		Custom:       r.Custom,
	}
}

// UserDataOp is one custom property modification
type UserDataOp struct {
	// Op is one of set, set_once, push, push_unique, pull, unset,
	// increment, increment_by, multiply, max, min
	Op     string      `json:"op"`
	Key    string      `json:"key"`
	Value  interface{} `json:"value,omitempty"`
	Amount float64     `json:"amount,omitempty"`
}

// UserDataRequest applies ops in order, then saves them unless Save is false
type UserDataRequest struct {
	Ops  []UserDataOp `json:"ops"`
	Save *bool        `json:"save,omitempty"`
}

// ConsentRequest changes consent. Action is add, remove, opt_in, opt_out or
// group; Groups is only read by group.
type ConsentRequest struct {
	Action   string              `json:"action"`
	Features []string            `json:"features,omitempty"`
	Groups   map[string][]string `json:"groups,omitempty"`
}

// ErrorReportRequest reports a handled error or a breadcrumb
type ErrorReportRequest struct {
	Message  string            `json:"message"`
	Segments map[string]string `json:"segments,omitempty"`
}

// DeviceRequest changes the device ID or the offline mode
type DeviceRequest struct {
	// Action is change_id, offline or online
	Action   string `json:"action"`
	DeviceID string `json:"device_id,omitempty"`
	Merge    bool   `json:"merge,omitempty"`
}

// ConversionRequest reports a campaign conversion
type ConversionRequest struct {
	CampaignID string `json:"campaign_id,omitempty"`
}

// TrackingRequest enables one of the automatic trackers
type TrackingRequest struct {
	// Kind is sessions, links, forms, form_data or errors
	Kind          string            `json:"kind"`
	ParentID      string            `json:"parent_id,omitempty"`
	IncludeHidden bool              `json:"include_hidden,omitempty"`
	StoreAsCustom bool              `json:"store_as_custom,omitempty"`
	Segments      map[string]string `json:"segments,omitempty"`
}

// CommandResponse acknowledges accepted commands
type CommandResponse struct {
	AppKey   string `json:"app_key"`
	Accepted int    `json:"accepted"`
}

// RemoteConfigResponse holds remote config values for an app
type RemoteConfigResponse struct {
	AppKey string                 `json:"app_key"`
	Values map[string]interface{} `json:"values"`
}

// JournalCountsResponse holds journaled command counts by tag
type JournalCountsResponse struct {
	AppKey string         `json:"app_key"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// Error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidCommand   = "INVALID_COMMAND"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// NewErrorResponse creates a new error response
func NewErrorResponse(err string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: err,
		Code:  code,
	}
}

// NewErrorResponseWithDetails creates a new error response with details
func NewErrorResponseWithDetails(err string, code string, details string) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Code:    code,
		Details: details,
	}
}

// toValue converts a decoded JSON property value, rejecting objects,
// booleans and null
func toValue(op, key string, v interface{}) (sdk.Value, error) {
	if v == nil {
		return nil, fmt.Errorf("%s %q: value is required", op, key)
	}
	value, err := sdk.ValueOf(v)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, key, err)
	}
	return value, nil
}
