package fakeservice

import "encoding/xml"

// syntheticFetch mirrors just enough of the emitter's wire format
// (pkg/sqlfrontend/emit) to let the fake organization apply a
// top-level equality filter; it intentionally ignores joins,
// aggregates and ordering, since the store has no notion of them.
type syntheticFetch struct {
	Entity struct {
		Name   string `xml:"name,attr"`
		Filter struct {
			Conditions []struct {
				Attribute string `xml:"attribute,attr"`
				Operator  string `xml:"operator,attr"`
				Value     string `xml:"value,attr"`
			} `xml:"condition"`
		} `xml:"filter"`
	} `xml:"entity"`
}

func parseSyntheticFetch(fetchXML string) (entity string, filter map[string]any) {
	var f syntheticFetch
	if err := xml.Unmarshal([]byte(fetchXML), &f); err != nil {
		return "", nil
	}
	filter = map[string]any{}
	for _, c := range f.Entity.Filter.Conditions {
		if c.Operator == "eq" {
			filter[c.Attribute] = c.Value
		}
	}
	if len(filter) == 0 {
		filter = nil
	}
	return f.Entity.Name, filter
}
