package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tile is one cell of the settlement map as the server last reported it.
// Tiles are never mutated client side.
type Tile struct {
	X           int            `json:"coordinate_x"`
	Y           int            `json:"coordinate_y"`
	Terrain     string         `json:"terrain_type"`
	Color       string         `json:"color,omitempty"`
	Description string         `json:"description,omitempty"`
	Nodes       []ResourceNode `json:"resource_nodes,omitempty"`
}

// HasNodes reports whether at least one resource node sits on the tile.
func (t Tile) HasNodes() bool { return len(t.Nodes) > 0 }

// ResourceNode is a gatherable object occupying a tile.
type ResourceNode struct {
	ID           int        `json:"id"`
	Name         string     `json:"name"`
	ResourceType string     `json:"resource_type"`
	SpriteKey    string     `json:"sprite_key"`
	Quantity     int        `json:"quantity"`
	MaxQuantity  int        `json:"max_quantity"`
	Gatherer     *WorkerRef `json:"gatherer,omitempty"`
	Lore         string     `json:"lore,omitempty"`
}

// BeingGathered reports whether a worker currently occupies the node.
func (n ResourceNode) BeingGathered() bool { return n.Gatherer != nil }

// WorkerRef identifies the villager occupying a node. The server has sent
// it as a bare id, a bare name and as an {id, name} object over time, so all
// three decode.
type WorkerRef struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Label returns a display string for the worker.
func (w WorkerRef) Label() string {
	if w.Name != "" {
		return w.Name
	}
	if w.ID != 0 {
		return "villager #" + strconv.Itoa(w.ID)
	}
	return "a villager"
}

// UnmarshalJSON accepts a number, a string or an object.
func (w *WorkerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, string(data) == "null":
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &w.Name)
	case data[0] == '{':
		type plain WorkerRef
		return json.Unmarshal(data, (*plain)(w))
	default:
		id, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("worker ref %s: %w", data, err)
		}
		w.ID = id
		return nil
	}
}

// Building is a structure owned by the settlement.
type Building struct {
	ID          int    `json:"id"`
	Type        string `json:"building_type"`
	X           *int   `json:"coordinate_x"`
	Y           *int   `json:"coordinate_y"`
	Constructed bool   `json:"is_constructed"`
	Progress    int    `json:"construction_progress"`
	Assigned    string `json:"assigned,omitempty"`
	Description string `json:"description,omitempty"`
}

// Placed reports whether the building has map coordinates.
func (b Building) Placed() bool { return b.X != nil && b.Y != nil }

// Occupied reports whether a worker is assigned.
func (b Building) Occupied() bool {
	return b.Assigned != "" && !strings.EqualFold(b.Assigned, "Unoccupied")
}

// ResourceLevel is one stockpile of the settlement with its signed net rate
// of change per tick.
type ResourceLevel struct {
	Name    string
	Amount  float64
	NetRate float64
}

// Settlement is the aggregate refreshed by the synchronisation loop.
type Settlement struct {
	ID         int
	Name       string
	Resources  []ResourceLevel
	Popularity *float64
	Season     string
	Buildings  []Building
}

// Resource returns the level with the given name.
func (s Settlement) Resource(name string) (ResourceLevel, bool) {
	for _, r := range s.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceLevel{}, false
}

// resourceOrder fixes the display order of the well-known stockpiles. Unknown
// ones follow alphabetically.
var resourceOrder = map[string]int{"food": 0, "wood": 1, "stone": 2, "magic": 3}

// UnmarshalJSON decodes the settlement detail payload. Every numeric key K
// that has a sibling net_K_rate key becomes a ResourceLevel, so stockpiles
// added server side show up without a client change.
func (s *Settlement) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Settlement{}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &s.ID); err != nil {
			return fmt.Errorf("settlement id: %w", err)
		}
	}
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &s.Name)
	}
	if v, ok := raw["current_season"]; ok {
		_ = json.Unmarshal(v, &s.Season)
	}
	if v, ok := raw["popularity_index"]; ok && string(v) != "null" {
		var p float64
		if err := json.Unmarshal(v, &p); err == nil {
			s.Popularity = &p
		}
	}
	if v, ok := raw["buildings"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &s.Buildings); err != nil {
			return fmt.Errorf("settlement buildings: %w", err)
		}
	}
	for key := range raw {
		if !strings.HasPrefix(key, "net_") || !strings.HasSuffix(key, "_rate") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "net_"), "_rate")
		amount, ok := number(raw[name])
		if !ok {
			continue
		}
		rate, _ := number(raw[key])
		s.Resources = append(s.Resources, ResourceLevel{Name: name, Amount: amount, NetRate: rate})
	}
	sort.Slice(s.Resources, func(i, j int) bool {
		oi, iKnown := resourceOrder[s.Resources[i].Name]
		oj, jKnown := resourceOrder[s.Resources[j].Name]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return s.Resources[i].Name < s.Resources[j].Name
		}
	})
	return nil
}

// MarshalJSON writes the same shape UnmarshalJSON reads, so snapshots can be
// persisted and reloaded.
func (s Settlement) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":             s.ID,
		"name":           s.Name,
		"current_season": s.Season,
		"buildings":      s.Buildings,
	}
	if s.Popularity != nil {
		out["popularity_index"] = *s.Popularity
	}
	for _, r := range s.Resources {
		out[r.Name] = r.Amount
		out["net_"+r.Name+"_rate"] = r.NetRate
	}
	return json.Marshal(out)
}

// number decodes a JSON number, also accepting numeric strings (Django's
// DecimalField serialises that way).
func number(v json.RawMessage) (float64, bool) {
	if len(v) == 0 || string(v) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// GameClock is the global simulation clock.
type GameClock struct {
	Tick   int    `json:"tick_count"`
	Season string `json:"current_season"`
}

// SettlementEvent is one entry of the settlement's event log.
type SettlementEvent struct {
	ID          int    `json:"id"`
	Type        string `json:"event_type"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

// ObjectType names what a toggle-assignment request targets.
type ObjectType string

const (
	ObjectBuilding     ObjectType = "building"
	ObjectResourceNode ObjectType = "resource_node"
)

// PlaceRequest is the body of a building placement.
type PlaceRequest struct {
	SettlementID int    `json:"settlement_id"`
	BuildingType string `json:"building_type"`
	TileX        int    `json:"tile_x"`
	TileY        int    `json:"tile_y"`
}

// PlaceResult is the success response of a building placement.
type PlaceResult struct {
	Message    string `json:"message"`
	BuildingID int    `json:"building_id"`
}

// ToggleRequest is the body of a toggle-assignment request.
type ToggleRequest struct {
	SettlementID int        `json:"settlement_id"`
	ObjectType   ObjectType `json:"object_type"`
	ObjectID     int        `json:"object_id"`
}

// AssignRequest is the body of a villager assignment. A zero SettlerID lets
// the server pick any idle villager.
type AssignRequest struct {
	SettlementID int `json:"settlement_id"`
	BuildingID   int `json:"building_id"`
	SettlerID    int `json:"settler_id,omitempty"`
}

// ActionResult is the generic {message} response of mutation endpoints.
type ActionResult struct {
	Message   string `json:"message"`
	SettlerID int    `json:"settler_id,omitempty"`
}

// BuildingTypes is the catalogue of placeable building types in menu order.
var BuildingTypes = []string{"house", "farmhouse", "lumber_mill", "quarry", "warehouse"}
