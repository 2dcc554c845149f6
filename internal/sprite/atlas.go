package sprite

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"strings"
)

// SourceSize is the edge of one cell on every sprite sheet.
const SourceSize = 48

// constructionSuffix marks the dedicated under-construction variant of a
// building sprite.
const constructionSuffix = "_construction"

// underConstructionAlpha is applied to the completed sprite when no
// dedicated under-construction sprite exists.
const underConstructionAlpha = 0.5

// Category selects a key space of the atlas.
type Category uint8

const (
	Terrain Category = iota
	Building
	ResourceNode
	categoryCount // sentinel
)

var categoryNames = [categoryCount]string{
	Terrain:      "terrain",
	Building:     "building",
	ResourceNode: "resource_node",
}

func (c Category) String() string {
	if c >= categoryCount {
		return fmt.Sprintf("Category(%d)", c)
	}
	return categoryNames[c]
}

// sheet returns the image resource a category is drawn from.
func (c Category) sheet() SheetID {
	if c == ResourceNode {
		return SheetNodes
	}
	return SheetMain
}

// ParseKey splits a qualified key such as "building.house" or
// "resource_node.skyberry_bush".
func ParseKey(qualified string) (Category, string, bool) {
	prefix, key, ok := strings.Cut(qualified, ".")
	if !ok || key == "" {
		return 0, "", false
	}
	for c := Category(0); c < categoryCount; c++ {
		if categoryNames[c] == prefix {
			return c, key, true
		}
	}
	return 0, "", false
}

// Sprite is a source rectangle on a loaded sheet.
type Sprite struct {
	Sheet image.Image
	Src   image.Rectangle
}

// Atlas maps semantic keys to sprite sheet cells.
type Atlas struct {
	sheets *Sheets
	cells  [categoryCount]map[string]image.Point
}

// NewAtlas returns an atlas with the default sheet layout reading images
// from sheets.
func NewAtlas(sheets *Sheets) *Atlas {
	a := &Atlas{sheets: sheets}
	for c := Category(0); c < categoryCount; c++ {
		a.cells[c] = make(map[string]image.Point)
	}
	for c, m := range defaultCells {
		for k, p := range m {
			a.cells[c][k] = p
		}
	}
	return a
}

// Resolve returns the sprite for key in category cat. It reports false when
// the sheet has not finished loading or the key is unmapped; callers then
// draw the category's fallback colour. Unknown keys are never an error.
func (a *Atlas) Resolve(cat Category, key string) (Sprite, bool) {
	if a == nil || cat >= categoryCount {
		return Sprite{}, false
	}
	p, ok := a.cells[cat][key]
	if !ok {
		return Sprite{}, false
	}
	img, ok := a.sheets.Image(cat.sheet())
	if !ok {
		return Sprite{}, false
	}
	return Sprite{Sheet: img, Src: image.Rect(p.X, p.Y, p.X+SourceSize, p.Y+SourceSize)}, true
}

// ResolveQualified resolves a "category.key" string.
func (a *Atlas) ResolveQualified(qualified string) (Sprite, bool) {
	cat, key, ok := ParseKey(qualified)
	if !ok {
		return Sprite{}, false
	}
	return a.Resolve(cat, key)
}

// ResolveBuilding picks the sprite for a building and the opacity to draw
// it at. An unconstructed building uses its "_construction" variant when
// one is mapped, and the completed sprite at half opacity otherwise.
func (a *Atlas) ResolveBuilding(buildingType string, constructed bool) (Sprite, float32, bool) {
	if !constructed {
		if s, ok := a.Resolve(Building, buildingType+constructionSuffix); ok {
			return s, 1, true
		}
		s, ok := a.Resolve(Building, buildingType)
		return s, underConstructionAlpha, ok
	}
	s, ok := a.Resolve(Building, buildingType)
	return s, 1, ok
}

// Loaded reports whether the sheet backing cat is available.
func (a *Atlas) Loaded(cat Category) bool {
	if a == nil || cat >= categoryCount {
		return false
	}
	_, ok := a.sheets.Image(cat.sheet())
	return ok
}

type cellJSON struct {
	SX int `json:"sx"`
	SY int `json:"sy"`
}

// LoadMapping merges a JSON mapping of the form
//
//	{"terrain": {"grass": {"sx": 0, "sy": 0}}, "buildings": {...}, "resource_nodes": {...}}
//
// into the atlas. Both singular and plural category names are accepted.
// Call before the atlas is shared with the renderer.
func (a *Atlas) LoadMapping(r io.Reader) error {
	var raw map[string]map[string]cellJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("sprite mapping: %w", err)
	}
	for name, entries := range raw {
		cat, ok := categoryFromSection(name)
		if !ok {
			return fmt.Errorf("sprite mapping: unknown section %q", name)
		}
		for k, v := range entries {
			a.cells[cat][k] = image.Pt(v.SX, v.SY)
		}
	}
	return nil
}

func categoryFromSection(name string) (Category, bool) {
	switch name {
	case "terrain":
		return Terrain, true
	case "building", "buildings":
		return Building, true
	case "resource_node", "resource_nodes":
		return ResourceNode, true
	}
	return 0, false
}

// defaultCells is the layout of the shipped sprite sheets.
var defaultCells = [categoryCount]map[string]image.Point{
	Terrain: {
		"grass":    {0, 0},
		"forest":   {48, 0},
		"mountain": {96, 0},
		"lake":     {144, 0},
	},
	Building: {
		"house":       {0, 48},
		"farmhouse":   {48, 48},
		"lumber_mill": {96, 48},
		"quarry":      {144, 48},
		"warehouse":   {192, 48},
	},
	ResourceNode: {
		"skyberry_bush":         {0, 0},
		"skyfish_pool":          {48, 0},
		"cloudroot_fungus":      {96, 0},
		"windroot_cluster":      {144, 0},
		"driftwood_tangle":      {192, 0},
		"stormvine_clump":       {240, 0},
		"drifting_boulders":     {288, 0},
		"sunglazed_plateau":     {336, 0},
		"hollowed_cliffside":    {384, 0},
		"aetheric_geyser":       {432, 0},
		"ley_crystal_formation": {480, 0},
		"aurora_bloom":          {528, 0},
		"echoing_stones":        {576, 0},
		"ancient_beacon":        {624, 0},
	},
}
