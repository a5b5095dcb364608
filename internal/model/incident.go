package model

import (
	"encoding/json"
	"time"
)

// Incident status values derived from structured API status documents.
const (
	StatusOut       = "Out"
	StatusControl   = "Control"
	StatusContained = "Contained"
	StatusActive    = "Active"
	StatusUnknown   = "Unknown"
)

// Enrichment holds optional source fields carried through without
// interpretation. Empty strings are stored as NULL.
type Enrichment struct {
	FireNumber string          `json:"fire_number,omitempty"`
	SourceUUID string          `json:"source_uuid,omitempty"`
	Command    string          `json:"command,omitempty"`
	Fuels      string          `json:"fuels,omitempty"`
	FiscalCode string          `json:"fiscal_code,omitempty"`
	FiscalData json.RawMessage `json:"fiscal_data,omitempty"`
}

// RawIncident is one row as read from the upstream source, before
// normalization. Both extraction strategies produce this shape.
type RawIncident struct {
	RowIndex   int        `json:"row_index"`
	Number     string     `json:"number"`
	Fiscal     string     `json:"fiscal,omitempty"`
	Name       string     `json:"name"`
	Type       string     `json:"type,omitempty"`
	Status     string     `json:"status"`
	Date       string     `json:"date,omitempty"`
	Location   string     `json:"location,omitempty"`
	LatLong    string     `json:"lat_long,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Resources  string     `json:"resources,omitempty"`
	Acres      string     `json:"acres,omitempty"`
	Comments   string     `json:"comments,omitempty"`
	Enrichment Enrichment `json:"enrichment"`

	// Payload is the verbatim source row.
	Payload json.RawMessage `json:"payload"`
}

// HasKey reports whether the row carries an incident number or name.
func (r RawIncident) HasKey() bool {
	return r.Number != "" || r.Name != ""
}

// Incident is a normalized incident ready for storage.
type Incident struct {
	OccurrenceID string          `json:"occurrence_id"`
	CenterID     string          `json:"center_id"`
	CenterCode   string          `json:"center_code"`
	Identity     string          `json:"identity"`
	Number       string          `json:"number"`
	Fiscal       string          `json:"fiscal,omitempty"`
	Name         string          `json:"name"`
	Type         string          `json:"type,omitempty"`
	Status       string          `json:"status"`
	ObservedAt   *time.Time      `json:"observed_at,omitempty"`
	Location     string          `json:"location,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Resources    string          `json:"resources,omitempty"`
	Acres        *float64        `json:"acres,omitempty"`
	Comments     string          `json:"comments,omitempty"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	IngestedAt   time.Time       `json:"ingested_at"`
	Enrichment   Enrichment      `json:"enrichment"`
}

// Observation is one historical snapshot of an incident write. Number and
// Name link observations of the same incident across status changes.
type Observation struct {
	OccurrenceID string          `json:"occurrence_id"`
	Identity     string          `json:"identity"`
	CenterID     string          `json:"center_id"`
	Number       string          `json:"number"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	ObservedAt   *time.Time      `json:"observed_at,omitempty"`
	Acres        *float64        `json:"acres,omitempty"`
	Resources    string          `json:"resources,omitempty"`
	Comments     string          `json:"comments,omitempty"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	IngestedAt   time.Time       `json:"ingested_at"`
}

// ObservationOf snapshots an incident.
func ObservationOf(inc Incident) Observation {
	return Observation{
		OccurrenceID: inc.OccurrenceID,
		Identity:     inc.Identity,
		CenterID:     inc.CenterID,
		Number:       inc.Number,
		Name:         inc.Name,
		Status:       inc.Status,
		ObservedAt:   inc.ObservedAt,
		Acres:        inc.Acres,
		Resources:    inc.Resources,
		Comments:     inc.Comments,
		RawPayload:   inc.RawPayload,
		IngestedAt:   inc.IngestedAt,
	}
}
