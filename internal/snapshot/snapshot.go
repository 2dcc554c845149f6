package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pierrec/lz4"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
)

// ErrNoSnapshot is returned by Load when nothing was saved for a settlement.
var ErrNoSnapshot = errors.New("snapshot: none saved")

// State is one saved copy of the synchronised resources.
type State struct {
	SettlementID int                   `json:"settlement_id"`
	SavedAt      time.Time             `json:"saved_at"`
	Settlement   *api.Settlement       `json:"settlement,omitempty"`
	Clock        *api.GameClock        `json:"clock,omitempty"`
	Tiles        []api.Tile            `json:"tiles,omitempty"`
	Events       []api.SettlementEvent `json:"events,omitempty"`
}

// Store reads and writes lz4-compressed JSON snapshots in one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. An empty dir uses DataDir().
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DataDir()
	}
	return &Store{dir: dir}
}

// Dir returns the directory snapshots are written to.
func (s *Store) Dir() string { return s.dir }

// Path returns the snapshot file for a settlement.
func (s *Store) Path(settlementID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("settlement-%d.json.lz4", settlementID))
}

// Save writes st atomically, replacing any previous snapshot.
func (s *Store) Save(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	compressed, err := compressLZ4(data)
	if err != nil {
		return fmt.Errorf("snapshot: compress: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	path := s.Path(st.SettlementID)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a settlement.
func (s *Store) Load(settlementID int) (State, error) {
	raw, err := os.ReadFile(s.Path(settlementID))
	if errors.Is(err, os.ErrNotExist) {
		return State{}, ErrNoSnapshot
	}
	if err != nil {
		return State{}, fmt.Errorf("snapshot: %w", err)
	}
	data, err := decompressLZ4(raw)
	if err != nil {
		return State{}, fmt.Errorf("snapshot: decompress: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	if st.SettlementID != settlementID {
		return State{}, fmt.Errorf("snapshot: file holds settlement %d, want %d", st.SettlementID, settlementID)
	}
	return st, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataDir returns the per-user directory for client data. AURORA_DATA_DIR
// overrides the platform default.
func DataDir() string {
	if custom := os.Getenv("AURORA_DATA_DIR"); custom != "" {
		return custom
	}
	switch runtime.GOOS {
	case "windows":
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, "CloudsOfAurora")
		}
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "CloudsOfAurora")
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "CloudsOfAurora")
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "clouds-of-aurora")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "clouds-of-aurora")
		}
	}
	return "./clouds-of-aurora-data"
}
