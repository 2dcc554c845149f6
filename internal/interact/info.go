package interact

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

// Info is what a popup shows about one tile. It is one of NodeInfo,
// BuildingInfo or TileInfo.
type Info interface {
	Coord() tilemap.Coord
	isInfo()
}

// NodeInfo describes a resource node.
type NodeInfo struct {
	At      tilemap.Coord
	Node    api.ResourceNode
	Terrain string
}

// BuildingInfo describes a building.
type BuildingInfo struct {
	At       tilemap.Coord
	Building api.Building
}

// TileInfo describes bare terrain.
type TileInfo struct {
	At   tilemap.Coord
	Tile api.Tile
}

func (i NodeInfo) Coord() tilemap.Coord     { return i.At }
func (i BuildingInfo) Coord() tilemap.Coord { return i.At }
func (i TileInfo) Coord() tilemap.Coord     { return i.At }

func (NodeInfo) isInfo()     {}
func (BuildingInfo) isInfo() {}
func (TileInfo) isInfo()     {}

// View is the data the router classifies tiles against.
type View interface {
	Index() *tilemap.Index
}

// Classify returns what is at c. A resource node wins over a building,
// which wins over bare terrain. It reports false when the server sent
// nothing for c.
func Classify(idx *tilemap.Index, c tilemap.Coord) (Info, bool) {
	tile := idx.Tile(c)
	if n := idx.Node(c); n != nil {
		return NodeInfo{At: c, Node: *n, Terrain: tile.Terrain}, true
	}
	if b := idx.Building(c); b != nil {
		return BuildingInfo{At: c, Building: *b}, true
	}
	if tile != nil {
		return TileInfo{At: c, Tile: *tile}, true
	}
	return nil, false
}

// Title is the heading line of a popup.
func Title(info Info) string {
	switch v := info.(type) {
	case NodeInfo:
		if v.Node.Name != "" {
			return v.Node.Name
		}
		return humanize(v.Node.SpriteKey)
	case BuildingInfo:
		return strings.ToUpper(humanize(v.Building.Type))
	case TileInfo:
		return strings.ToUpper(humanize(v.Tile.Terrain))
	}
	panic(fmt.Sprintf("interact: unhandled info %T", info))
}

// QuickLines is the body of the quick popup: current status at a glance.
func QuickLines(info Info) []string {
	switch v := info.(type) {
	case NodeInfo:
		n := v.Node
		lines := []string{fmt.Sprintf("%s: %d / %d", humanize(n.ResourceType), n.Quantity, n.MaxQuantity)}
		if n.BeingGathered() {
			lines = append(lines, "Gathered by "+n.Gatherer.Label())
		} else {
			lines = append(lines, "Idle (double-click to gather)")
		}
		return lines
	case BuildingInfo:
		b := v.Building
		var lines []string
		if b.Constructed {
			lines = append(lines, "Constructed")
		} else {
			lines = append(lines, fmt.Sprintf("Under construction (%d%%)", b.Progress))
		}
		if b.Occupied() {
			lines = append(lines, "Worker: "+b.Assigned)
		} else {
			lines = append(lines, "Unoccupied (double-click to assign)")
		}
		return lines
	case TileInfo:
		return []string{fmt.Sprintf("Tile (%d, %d)", v.At.X, v.At.Y)}
	}
	panic(fmt.Sprintf("interact: unhandled info %T", info))
}

// DetailedLines is the body of the detailed popup: lore, description and
// progress.
func DetailedLines(info Info) []string {
	switch v := info.(type) {
	case NodeInfo:
		n := v.Node
		lines := []string{orDefault(n.Lore, "No lore available.")}
		lines = append(lines, fmt.Sprintf("Remaining: %d of %d %s", n.Quantity, n.MaxQuantity, humanize(n.ResourceType)))
		if v.Terrain != "" {
			lines = append(lines, "On "+humanize(v.Terrain))
		}
		return lines
	case BuildingInfo:
		b := v.Building
		lines := []string{orDefault(b.Description, "No additional info available.")}
		if !b.Constructed {
			lines = append(lines, fmt.Sprintf("Construction progress: %d%%", b.Progress))
		}
		lines = append(lines, "Assigned: "+orDefault(b.Assigned, "Unoccupied"))
		return lines
	case TileInfo:
		return []string{orDefault(v.Tile.Description, "No description available.")}
	}
	panic(fmt.Sprintf("interact: unhandled info %T", info))
}

// Text renders a popup as plain text, title first.
func Text(info Info, tier Tier) string {
	lines := QuickLines(info)
	if tier == Detailed {
		lines = DetailedLines(info)
	}
	return Title(info) + "\n" + strings.Join(lines, "\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// humanize turns "lumber_mill" into "Lumber mill".
func humanize(key string) string {
	s := strings.ReplaceAll(strings.TrimSpace(key), "_", " ")
	if s == "" {
		return "Unknown"
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// ResourceBar formats the settlement's stockpiles, season and happiness the
// way the resource strip shows them, e.g.
//
//	Food: 12.0 (+1.5) | Wood: 3.0 (-0.5) | Season: Spring | Happiness: 50
func ResourceBar(s api.Settlement) string {
	parts := make([]string, 0, len(s.Resources)+2)
	for _, r := range s.Resources {
		parts = append(parts, fmt.Sprintf("%s: %.1f (%+.1f)", humanize(r.Name), r.Amount, r.NetRate))
	}
	if s.Season != "" {
		parts = append(parts, "Season: "+s.Season)
	}
	if s.Popularity != nil {
		parts = append(parts, fmt.Sprintf("Happiness: %g", *s.Popularity))
	}
	return strings.Join(parts, " | ")
}
