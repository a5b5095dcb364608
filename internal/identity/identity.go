// Package identity derives the stable and per-occurrence identifiers used to
// key dispatch centers and incidents.
//
// Center and incident identities are name-based UUIDv5 values in the DNS
// namespace, so any UUIDv5 implementation fed the same names produces the
// same identifiers.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

const (
	centerPrefix   = "wildweb.dispatch.center."
	incidentPrefix = "wildweb.incident."
)

// CenterID returns the deterministic identifier of a dispatch center.
func CenterID(code string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(centerPrefix+code)).String()
}

// IncidentIdentity returns the deterministic identity of an incident. Status
// is part of the key, so a status transition yields a new identity.
func IncidentIdentity(centerCode, number, name, status string) string {
	name = strings.Join([]string{centerCode, number, name, status}, ".")
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(incidentPrefix+name)).String()
}

// NewOccurrenceID returns a random identifier for a single extraction of an
// incident.
func NewOccurrenceID() string {
	return uuid.New().String()
}
