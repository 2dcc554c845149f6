package sprite

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestResolve_NotLoadedReturnsFalse(t *testing.T) {
	a := NewAtlas(NewSheets(nil, nil))
	if _, ok := a.Resolve(Terrain, "grass"); ok {
		t.Fatal("resolve should fail before sheets load")
	}
	if a.Loaded(Terrain) {
		t.Fatal("terrain sheet should not be loaded")
	}
}

func TestResolve_AfterLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"spritesheet.png":   {Data: pngBytes(t, 240, 96)},
		"resourceNodes.png": {Data: pngBytes(t, 672, 48)},
	}
	sheets := NewSheets(fsys, nil)
	a := NewAtlas(sheets)
	sheets.Load()
	<-sheets.Done()

	s, ok := a.Resolve(Building, "quarry")
	if !ok {
		t.Fatal("quarry should resolve once loaded")
	}
	if want := image.Rect(144, 48, 192, 96); s.Src != want {
		t.Fatalf("quarry src = %v, want %v", s.Src, want)
	}
	if s, ok := a.ResolveQualified("resource_node.aurora_bloom"); !ok || s.Src.Min.X != 528 {
		t.Fatalf("aurora_bloom = %v ok=%v", s.Src, ok)
	}
	if _, ok := a.Resolve(Terrain, "volcano"); ok {
		t.Fatal("unmapped key must not resolve")
	}
}

func TestLoad_MissingNodeSheetLeavesMainUsable(t *testing.T) {
	fsys := fstest.MapFS{"spritesheet.png": {Data: pngBytes(t, 240, 96)}}
	sheets := NewSheets(fsys, nil)
	a := NewAtlas(sheets)
	sheets.Load()
	sheets.Load() // second call is a no-op

	if !a.Loaded(Terrain) {
		t.Fatal("main sheet should load")
	}
	if a.Loaded(ResourceNode) {
		t.Fatal("node sheet is missing and must stay unloaded")
	}
	if _, ok := a.Resolve(ResourceNode, "skyberry_bush"); ok {
		t.Fatal("node sprites cannot resolve without their sheet")
	}
}

func TestLoad_CorruptSheetDegradesSilently(t *testing.T) {
	fsys := fstest.MapFS{"spritesheet.png": {Data: []byte("not a png")}}
	sheets := NewSheets(fsys, nil)
	sheets.Load()
	if _, ok := sheets.Image(SheetMain); ok {
		t.Fatal("corrupt sheet should not be exposed")
	}
}

func TestResolveBuilding_ConstructionVariant(t *testing.T) {
	a := NewAtlas(Preloaded(map[SheetID]image.Image{SheetMain: image.NewRGBA(image.Rect(0, 0, 480, 96))}))

	s, alpha, ok := a.ResolveBuilding("house", false)
	if !ok || alpha != 0.5 || s.Src.Min != image.Pt(0, 48) {
		t.Fatalf("unconstructed house without variant: src=%v alpha=%v ok=%v", s.Src, alpha, ok)
	}

	if err := a.LoadMapping(strings.NewReader(`{"buildings": {"house_construction": {"sx": 240, "sy": 48}}}`)); err != nil {
		t.Fatalf("LoadMapping: %v", err)
	}
	s, alpha, ok = a.ResolveBuilding("house", false)
	if !ok || alpha != 1 || s.Src.Min != image.Pt(240, 48) {
		t.Fatalf("unconstructed house with variant: src=%v alpha=%v ok=%v", s.Src, alpha, ok)
	}
	s, alpha, ok = a.ResolveBuilding("house", true)
	if !ok || alpha != 1 || s.Src.Min != image.Pt(0, 48) {
		t.Fatalf("constructed house: src=%v alpha=%v ok=%v", s.Src, alpha, ok)
	}
}

func TestLoadMapping_RejectsUnknownSection(t *testing.T) {
	a := NewAtlas(nil)
	if err := a.LoadMapping(strings.NewReader(`{"units": {}}`)); err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		in   string
		cat  Category
		key  string
		okay bool
	}{
		{"terrain.grass", Terrain, "grass", true},
		{"building.lumber_mill_construction", Building, "lumber_mill_construction", true},
		{"resource_node.echoing_stones", ResourceNode, "echoing_stones", true},
		{"terrain.", 0, "", false},
		{"grass", 0, "", false},
		{"unit.knight", 0, "", false},
	}
	for _, tc := range cases {
		cat, key, ok := ParseKey(tc.in)
		if ok != tc.okay || cat != tc.cat || key != tc.key {
			t.Fatalf("ParseKey(%q) = %v,%q,%v", tc.in, cat, key, ok)
		}
	}
}

func TestFallbacks(t *testing.T) {
	if c := FallbackTerrain(api.Tile{Color: "#2e7d32"}); c != (color.RGBA{0x2e, 0x7d, 0x32, 255}) {
		t.Fatalf("tile colour = %v", c)
	}
	if c := FallbackTerrain(api.Tile{Color: "#abc"}); c != (color.RGBA{0xaa, 0xbb, 0xcc, 255}) {
		t.Fatalf("short hex = %v", c)
	}
	if FallbackTerrain(api.Tile{}) != ColorGray || FallbackTerrain(api.Tile{Color: "teal"}) != ColorGray {
		t.Fatal("unknown terrain colour should be gray")
	}
	if FallbackBuilding("house") != ColorBrown || FallbackBuilding("quarry") != ColorGray {
		t.Fatal("building fallbacks wrong")
	}
	if FallbackNode(false) != ColorRed || FallbackNode(true) != ColorYellow {
		t.Fatal("node fallbacks wrong")
	}
}
