package extract

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wildfire-cli/internal/model"
)

// maskPrefix marks a string value the source has suppressed.
const maskPrefix = "*"

// DecodeItems reads an API response: a flat array of items, an array of
// pages shaped {"data": [...]}, or a single such page.
func DecodeItems(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		items, ok, err := pageItems(body)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, eris.New("api: object response without data array")
		}
		return items, nil
	}

	var top []json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, eris.Wrap(err, "api: decode response")
	}
	var items []json.RawMessage
	for _, el := range top {
		if page, ok, _ := pageItems(el); ok {
			items = append(items, page...)
			continue
		}
		items = append(items, el)
	}
	return items, nil
}

func pageItems(raw json.RawMessage) ([]json.RawMessage, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false, nil
	}
	var page map[string]json.RawMessage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, eris.Wrap(err, "api: decode page")
	}
	data, ok := page["data"]
	if !ok {
		return nil, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, nil
	}
	return items, true, nil
}

// MapItem converts one API item into a raw incident row.
func MapItem(raw json.RawMessage) (model.RawIncident, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return model.RawIncident{}, eris.Wrap(err, "api: decode item")
	}
	obj, ok := Unmask(decoded).(map[string]any)
	if !ok {
		return model.RawIncident{}, eris.New("api: item is not an object")
	}

	row := model.RawIncident{
		Number:    pick(obj, "inc_num", "incident_number", "incNum"),
		Name:      pick(obj, "name", "incident_name"),
		Type:      pick(obj, "type", "incident_type"),
		Status:    DeriveStatus(obj["fire_status"]),
		Date:      pick(obj, "date", "local_date", "created"),
		Location:  pick(obj, "location"),
		Resources: pick(obj, "resources"),
		Acres:     pick(obj, "acres"),
		Comments:  pick(obj, "webComment", "web_comment", "comments"),
		Enrichment: model.Enrichment{
			FireNumber: pick(obj, "fire_num", "fire_number"),
			SourceUUID: pick(obj, "uuid"),
			Command:    pick(obj, "ic", "command"),
			Fuels:      pick(obj, "fuels"),
		},
		Payload: raw,
	}
	if !row.HasKey() {
		return row, eris.New("api: item has neither number nor name")
	}

	row.Latitude = number(obj, "latitude", "lat")
	if lon := number(obj, "longitude", "long", "lon"); lon != nil {
		v := -math.Abs(*lon)
		row.Longitude = &v
	}

	if fiscal, ok := parseDocument(obj["fiscal_data"]); ok {
		row.Enrichment.FiscalData, _ = json.Marshal(fiscal)
		row.Enrichment.FiscalCode = pick(fiscal, "fiscal_code", "code", "charge_code")
		row.Fiscal = row.Enrichment.FiscalCode
	}
	return row, nil
}

// Unmask replaces every string starting with the mask prefix with nil,
// descending into objects and arrays.
func Unmask(v any) any {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, maskPrefix) {
			return nil
		}
		return t
	case map[string]any:
		for k, vv := range t {
			t[k] = Unmask(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = Unmask(vv)
		}
		return t
	default:
		return v
	}
}

// DeriveStatus labels an incident from its status sub-document, which may be
// an object or a JSON-encoded object. Flags are checked in priority order.
func DeriveStatus(v any) string {
	doc, ok := parseDocument(v)
	if !ok {
		return model.StatusUnknown
	}
	switch {
	case truthy(doc["out"]):
		return model.StatusOut
	case truthy(doc["control"]):
		return model.StatusControl
	case truthy(doc["contain"]):
		return model.StatusContained
	default:
		return model.StatusActive
	}
}

func parseDocument(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var doc map[string]any
		if err := json.Unmarshal([]byte(t), &doc); err != nil || doc == nil {
			return nil, false
		}
		return doc, true
	default:
		return nil, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0" && s != "null"
	default:
		return false
	}
}

func pick(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

func number(obj map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case float64:
			return &t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
