package api

import "github.com/mihaimyh/goaccess/pkg/access"

// AccessResponse is the caller's current access standing
type AccessResponse struct {
	HasAccess    bool                 `json:"has_access"`
	IsAdmin      bool                 `json:"is_admin"`
	Subscription *access.Subscription `json:"subscription"`
}

// SubscriptionsResponse is the admin dashboard payload
type SubscriptionsResponse struct {
	Subscriptions []*access.Subscription `json:"subscriptions"`
	Counts        map[access.Status]int  `json:"counts"`
	Total         int                    `json:"total"` // Sum of Counts, not len(Subscriptions)
}

// ValidateCodeRequest is the body of the code validation endpoint
type ValidateCodeRequest struct {
	Code string `json:"code"`
}

// ValidateCodeResponse reports whether a code grants access
type ValidateCodeResponse struct {
	Valid bool `json:"valid"`
}
