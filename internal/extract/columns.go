package extract

import (
	"strings"

	"golang.org/x/text/cases"
)

// Field is a logical grid column.
type Field int

const (
	FieldNumber Field = iota
	FieldFiscal
	FieldName
	FieldType
	FieldStatus
	FieldDate
	FieldLocation
	FieldLatLong
	FieldResources
	FieldAcres
	FieldComments
)

var fieldNames = [...]string{
	"incident_number", "fiscal", "incident_name", "incident_type", "incident_status",
	"local_date", "location", "lat_long", "resources", "acres", "comments",
}

func (f Field) String() string { return fieldNames[f] }

// headerRules are checked in order; the first matching rule wins for a header.
var headerRules = []struct {
	field    Field
	keywords []string
}{
	{FieldNumber, []string{"inc#"}},
	{FieldFiscal, []string{"fiscal"}},
	{FieldName, []string{"name"}},
	{FieldType, []string{"type"}},
	{FieldStatus, []string{"status"}},
	{FieldDate, []string{"local", "date"}},
	{FieldLocation, []string{"location"}},
	{FieldLatLong, []string{"lat", "long"}},
	{FieldResources, []string{"resources"}},
	{FieldAcres, []string{"acres"}},
	{FieldComments, []string{"web", "comment"}},
}

// ColumnMap maps logical fields to cell positions.
type ColumnMap map[Field]int

// DefaultColumns is the fixed positional layout used when no header is
// recognized.
func DefaultColumns() ColumnMap {
	m := make(ColumnMap, len(fieldNames))
	for i := range fieldNames {
		m[Field(i)] = i
	}
	return m
}

// MapColumns matches header labels to fields by keyword. Later headers
// matching the same field replace earlier ones.
func MapColumns(headers []string) ColumnMap {
	fold := cases.Fold()
	m := make(ColumnMap)
	for i, h := range headers {
		text := fold.String(strings.TrimSpace(h))
		for _, rule := range headerRules {
			if containsAny(text, rule.keywords) {
				m[rule.field] = i
				break
			}
		}
	}
	if len(m) == 0 {
		return DefaultColumns()
	}
	return m
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// values reads each mapped field from cells; missing positions read as "".
func (m ColumnMap) values(cells []string) map[Field]string {
	out := make(map[Field]string, len(m))
	for f, pos := range m {
		if pos < len(cells) {
			out[f] = strings.TrimSpace(cells[pos])
		} else {
			out[f] = ""
		}
	}
	return out
}
