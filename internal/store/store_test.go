package store

import (
	"encoding/json"
	"time"

	"github.com/sells-group/wildfire-cli/internal/identity"
	"github.com/sells-group/wildfire-cli/internal/model"
)

var t0 = time.Date(2025, 7, 14, 18, 0, 0, 0, time.UTC)

func testCenter(code, name string) model.DispatchCenter {
	return model.NewDispatchCenter(code, name, "Active", "https://www.wildwebe.net/incidents?dc_Name="+code, t0)
}

func testIncident(center model.DispatchCenter, number, name, status, occ string, at time.Time) model.Incident {
	acres := 12.5
	return model.Incident{
		OccurrenceID: occ,
		CenterID:     center.ID,
		CenterCode:   center.Code,
		Identity:     identity.IncidentIdentity(center.Code, number, name, status),
		Number:       number,
		Name:         name,
		Type:         "Wildfire",
		Status:       status,
		Acres:        &acres,
		RawPayload:   json.RawMessage(`{"incident_number":"` + number + `"}`),
		IngestedAt:   at,
	}
}
