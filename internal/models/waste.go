// File: internal/models/waste.go
package models

import "strings"

// WasteType is one of the accepted recycling categories
type WasteType string

const (
	WastePlastic WasteType = "plastic"
	WasteMetal   WasteType = "metal"
	WastePaper   WasteType = "paper"
	WasteGlass   WasteType = "glass"
	WasteOrganic WasteType = "organic"
	WasteEWaste  WasteType = "e-waste"
)

var wasteTypes = map[WasteType]struct{}{
	WastePlastic: {},
	WasteMetal:   {},
	WastePaper:   {},
	WasteGlass:   {},
	WasteOrganic: {},
	WasteEWaste:  {},
}

// ParseWasteType normalizes s and reports whether it names a known category
func ParseWasteType(s string) (WasteType, bool) {
	wt := WasteType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := wasteTypes[wt]
	return wt, ok
}
