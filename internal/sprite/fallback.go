package sprite

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
)

// Fallback colours used while sheets are missing or a key is unmapped.
var (
	ColorGray   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	ColorBrown  = color.RGBA{R: 165, G: 42, B: 42, A: 255}
	ColorRed    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	ColorYellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// FallbackTerrain returns the solid fill for a tile: its own colour when the
// server sent a parseable one, gray otherwise.
func FallbackTerrain(t api.Tile) color.RGBA {
	if c, ok := ParseHex(t.Color); ok {
		return c
	}
	return ColorGray
}

// FallbackBuilding returns the solid fill for a building type.
func FallbackBuilding(buildingType string) color.RGBA {
	if buildingType == "house" {
		return ColorBrown
	}
	return ColorGray
}

// FallbackNode returns the marker colour for a resource node: red while the
// node sheet is missing, yellow when the sheet is loaded but the sprite key
// is unmapped.
func FallbackNode(sheetLoaded bool) color.RGBA {
	if !sheetLoaded {
		return ColorRed
	}
	return ColorYellow
}

// ParseHex parses "#rgb" or "#rrggbb".
func ParseHex(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
}
