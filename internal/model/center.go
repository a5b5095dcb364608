package model

import (
	"time"

	"github.com/sells-group/wildfire-cli/internal/identity"
)

// DispatchCenter is a regional dispatch center listed in the public directory.
type DispatchCenter struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Status      string    `json:"status"`
	SourceURL   string    `json:"source_url"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewDispatchCenter builds a center from directory fields, deriving its ID and
// state from the code.
func NewDispatchCenter(code, name, status, sourceURL string, now time.Time) DispatchCenter {
	return DispatchCenter{
		ID:          identity.CenterID(code),
		Code:        code,
		Name:        name,
		State:       StateFromCode(code),
		Status:      status,
		SourceURL:   sourceURL,
		LastUpdated: now,
	}
}

// StateFromCode returns the two-letter state prefix of a center code, or ""
// when the code is too short.
func StateFromCode(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}

// Endpoint is a remembered API data endpoint for a center.
type Endpoint struct {
	CenterCode  string    `json:"center_code"`
	URL         string    `json:"url"`
	LastSuccess time.Time `json:"last_success"`
}
