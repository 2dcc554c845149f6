package sprite

import (
	"fmt"
	"image"
	_ "image/png" // sprite sheets are PNG
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SheetID names one image resource shared by many sprites.
type SheetID uint8

const (
	SheetMain  SheetID = iota // terrain and buildings
	SheetNodes                // resource nodes
	sheetCount                // sentinel
)

var sheetFiles = [sheetCount]string{
	SheetMain:  "spritesheet.png",
	SheetNodes: "resourceNodes.png",
}

// Sheets owns the decoded sprite sheets. Each sheet is loaded at most once
// and is immutable afterwards; readers see either "not loaded" or the final
// image, never a partial one. A sheet that fails to load stays "not loaded"
// for the lifetime of the value and callers fall back to solid colours.
type Sheets struct {
	fsys   fs.FS
	logger *slog.Logger
	once   sync.Once
	done   chan struct{}
	images [sheetCount]atomic.Pointer[image.Image]
}

// NewSheets returns an unloaded sheet set reading from fsys. A nil fsys is
// valid and never loads anything.
func NewSheets(fsys fs.FS, logger *slog.Logger) *Sheets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sheets{fsys: fsys, logger: logger, done: make(chan struct{})}
}

// Preloaded returns a sheet set that is already loaded with the given
// images. Missing ids stay unloaded.
func Preloaded(imgs map[SheetID]image.Image) *Sheets {
	s := NewSheets(nil, nil)
	s.once.Do(func() {
		for id, img := range imgs {
			img := img
			s.images[id].Store(&img)
		}
		close(s.done)
	})
	return s
}

// Load decodes every sheet. Only the first call does any work; later calls
// return immediately (after the first has finished).
func (s *Sheets) Load() {
	s.once.Do(func() {
		defer close(s.done)
		if s.fsys == nil {
			return
		}
		for id := SheetID(0); id < sheetCount; id++ {
			img, err := decodeSheet(s.fsys, sheetFiles[id])
			if err != nil {
				// Asset failures are never surfaced to the player.
				s.logger.Debug("sprite sheet unavailable", "sheet", sheetFiles[id], "err", err)
				continue
			}
			s.images[id].Store(&img)
		}
	})
}

// LoadAsync starts Load on its own goroutine.
func (s *Sheets) LoadAsync() {
	go s.Load()
}

// Done is closed once loading has finished, successfully or not.
func (s *Sheets) Done() <-chan struct{} { return s.done }

// Image returns the sheet if it has finished loading.
func (s *Sheets) Image(id SheetID) (image.Image, bool) {
	if s == nil || id >= sheetCount {
		return nil, false
	}
	p := s.images[id].Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

func decodeSheet(fsys fs.FS, name string) (image.Image, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}
