package models

import (
	"fmt"
	"strings"
)

// Room is a single housing search result.
type Room struct {
	Row        int    `json:"row" mapstructure:"row"`
	Area       string `json:"area" mapstructure:"area"`
	Building   string `json:"building" mapstructure:"building"`
	Number     string `json:"number" mapstructure:"number"`
	Design     string `json:"design" mapstructure:"design"`
	Type       string `json:"type" mapstructure:"type"`
	OpenSpaces int    `json:"open_spaces" mapstructure:"open_spaces"`
}

// Key identifies a room across searches; result rows are positional and change between searches.
func (r Room) Key() string {
	return strings.ToLower(r.Building) + "/" + strings.ToLower(r.Number)
}

func (r Room) String() string {
	return fmt.Sprintf("%s %s (%s, %s, %s)", r.Building, r.Number, r.Area, r.Design, r.Type)
}

// LocationFilter selects which buildings a housing search covers.
type LocationFilter string

const (
	LocationBuilding LocationFilter = "BUILDING"
	LocationCluster  LocationFilter = "CLUSTER"
	LocationArea     LocationFilter = "AREA"
	LocationAll      LocationFilter = "ALL"
)

// RoomFilter narrows rooms by an attribute.
type RoomFilter string

const (
	RoomFilterType   RoomFilter = "TYPE"
	RoomFilterDesign RoomFilter = "DESIGN"
	RoomFilterFloor  RoomFilter = "FLOOR"
	RoomFilterOption RoomFilter = "OPTION"
)

// SpaceFilter narrows rooms by vacancy.
type SpaceFilter string

const (
	SpaceNone       SpaceFilter = "NONE"
	SpaceRoomOpen   SpaceFilter = "ROOM_OPEN"
	SpaceSuiteOpen  SpaceFilter = "SUITE_OPEN"
	SpaceType       SpaceFilter = "TYPE"
	SpaceOpenDouble SpaceFilter = "OPEN_DOUBLE"
	SpaceOpenTriple SpaceFilter = "OPEN_TRIPLE"
)

// RoomSearch holds the criteria entered into the portal's room search form plus the
// local preferences used to rank the results.
type RoomSearch struct {
	Name            string         `json:"name" mapstructure:"name" validate:"required"`
	Term            string         `json:"term" mapstructure:"term"`
	Process         string         `json:"process" mapstructure:"process"`
	Location        LocationFilter `json:"location" mapstructure:"location" validate:"omitempty,oneof=BUILDING CLUSTER AREA ALL"`
	LocationValue   string         `json:"location_value" mapstructure:"location_value"`
	RoomFilter      RoomFilter     `json:"room_filter" mapstructure:"room_filter" validate:"omitempty,oneof=TYPE DESIGN FLOOR OPTION"`
	RoomFilterValue string         `json:"room_filter_value" mapstructure:"room_filter_value"`
	Space           SpaceFilter    `json:"space" mapstructure:"space" validate:"omitempty,oneof=NONE ROOM_OPEN SUITE_OPEN TYPE OPEN_DOUBLE OPEN_TRIPLE"`
	SpaceValue      string         `json:"space_value" mapstructure:"space_value"`

	PreferredBuildings []string `json:"preferred_buildings" mapstructure:"preferred_buildings"`
	PreferredAreas     []string `json:"preferred_areas" mapstructure:"preferred_areas"`
	Designs            []string `json:"designs" mapstructure:"designs"`
	Types              []string `json:"types" mapstructure:"types"`
	MinOpenSpaces      int      `json:"min_open_spaces" mapstructure:"min_open_spaces" validate:"gte=0"`
}
