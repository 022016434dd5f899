package models

import "strings"

// Residential areas keyed by their short code.
var residentialAreas = map[string]string{
	"CE": "Central",
	"CH": "Commonwealth Honors Community",
	"LN": "Lincoln Apartments",
	"NO": "North",
	"NE": "Northeast",
	"OH": "Orchard Hill",
	"SW": "Southwest",
	"SY": "Sylvan",
}

// buildingAreas maps a building name to its residential area code.
var buildingAreas = map[string]string{
	"baker": "CE", "birch": "CH", "brett": "CE", "brooks": "CE", "brown": "SY",
	"butterfield": "CE", "cance": "SW", "cashin": "SY", "chadbourne": "CE",
	"coolidge": "SW", "crabtree": "NE", "crampton": "SW", "dickinson": "OH",
	"dwight": "NE", "elm": "CH", "emerson": "SW", "field": "OH", "gorman": "CE",
	"grayson": "OH", "greenough": "CE", "hamlin": "NE", "james": "SW",
	"john adams": "SW", "john quincy adams": "SW", "johnson": "NE",
	"kennedy": "SW", "knowlton": "NE", "leach": "NE", "lewis": "NE",
	"linden": "CH", "mackimmie": "SW", "maple": "CH", "mary lyon": "NE",
	"mcnamara": "SY", "melville": "SW", "moore": "SW", "north hall a": "NO",
	"north hall b": "NO", "north hall c": "NO", "north hall d": "NO",
	"oak": "CH", "patterson": "SW", "pierpont": "SW", "prince": "SW",
	"sycamore": "CH", "thatcher": "NE", "thoreau": "SW", "vanmeter": "CE",
	"washington": "SW", "webster": "OH", "wheeler": "CE",
}

// ResidentialArea returns the residential area name for a building, or "" when unknown.
func ResidentialArea(building string) string {
	key := strings.ToLower(strings.TrimSpace(building))
	if strings.HasPrefix(key, "lincoln building") {
		return residentialAreas["LN"]
	}
	code, ok := buildingAreas[key]
	if !ok {
		return ""
	}
	return residentialAreas[code]
}
