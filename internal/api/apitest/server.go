package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
)

// Recorded is one request the server received.
type Recorded struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// Costs mirrors the server's building price list.
var Costs = map[string]map[string]float64{
	"house":       {"wood": 10, "stone": 10},
	"farmhouse":   {"wood": 10, "stone": 10},
	"lumber_mill": {"wood": 10},
	"quarry":      {"stone": 10},
	"warehouse":   {"wood": 20, "stone": 10},
}

// Server is a fake settlement server. Exported fields may be changed between
// requests while holding Lock/Unlock.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	Settlement api.Settlement
	Tiles      []api.Tile
	Clock      api.GameClock
	Events     []api.SettlementEvent
	GridSize   int
	Token      string
	IdleNames  []string
	requests   []Recorded
	failures   map[string]int
	nextID     int
	// Gate, when set, is received from before each response is written.
	// Tests use it to hold responses in flight.
	Gate chan struct{}
}

// New starts a server seeded with a 10x10 grass map and a settlement with
// 50 of each stockpile. The server is closed when the test ends.
func New(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		GridSize:  10,
		IdleNames: []string{"Alice", "Bob", "Charlie"},
		failures:  map[string]int{},
		nextID:    100,
		Clock:     api.GameClock{Tick: 1, Season: "Spring"},
		Settlement: api.Settlement{
			ID:     1,
			Name:   "Aurora",
			Season: "Spring",
			Resources: []api.ResourceLevel{
				{Name: "food", Amount: 50, NetRate: 1.5},
				{Name: "wood", Amount: 50, NetRate: -0.5},
				{Name: "stone", Amount: 50},
				{Name: "magic", Amount: 0},
			},
		},
	}
	for y := 0; y < s.GridSize; y++ {
		for x := 0; x < s.GridSize; x++ {
			s.Tiles = append(s.Tiles, api.Tile{X: x, Y: y, Terrain: "grass", Color: "#4caf50"})
		}
	}
	s.Server = httptest.NewServer(s.routes())
	tb.Cleanup(s.Close)
	return s
}

// BaseURL returns the API root the client should be pointed at.
func (s *Server) BaseURL() string { return s.Server.URL + "/api" }

// Lock guards direct field access from tests.
func (s *Server) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Server) Unlock() { s.mu.Unlock() }

// FailPath makes every request whose path ends with suffix answer status.
// Status 0 clears the failure.
func (s *Server) FailPath(suffix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, suffix)
		return
	}
	s.failures[suffix] = status
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// CountPath returns how many requests hit a path ending with suffix.
func (s *Server) CountPath(method, suffix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, suffix) {
			n++
		}
	}
	return n
}

// AddNode puts a resource node on tile (x, y) and returns its id.
func (s *Server) AddNode(x, y int, node api.ResourceNode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node.ID == 0 {
		s.nextID++
		node.ID = s.nextID
	}
	for i := range s.Tiles {
		if s.Tiles[i].X == x && s.Tiles[i].Y == y {
			s.Tiles[i].Nodes = append(s.Tiles[i].Nodes, node)
		}
	}
	return node.ID
}

// AddBuilding places a building directly and returns its id.
func (s *Server) AddBuilding(b api.Building) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.nextID++
		b.ID = s.nextID
	}
	if b.Assigned == "" {
		b.Assigned = "Unoccupied"
	}
	s.Settlement.Buildings = append(s.Settlement.Buildings, b)
	return b.ID
}

// SetResource overwrites a stockpile amount.
func (s *Server) SetResource(name string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Settlement.Resources {
		if s.Settlement.Resources[i].Name == name {
			s.Settlement.Resources[i].Amount = amount
			return
		}
	}
	s.Settlement.Resources = append(s.Settlement.Resources, api.ResourceLevel{Name: name, Amount: amount})
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Route("/api", func(r chi.Router) {
		r.Get("/game-state/", s.gameState)
		r.Get("/settlements/{id}/", s.settlementDetail)
		r.Get("/settlement/{id}/map/", s.settlementMap)
		r.Get("/settlement/{id}/events/", s.settlementEvents)
		r.Post("/building/place/", s.placeBuilding)
		r.Post("/toggle_assignment/", s.toggleAssignment)
		r.Post("/villager/assign/", s.assignVillager)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Recorded{Method: r.Method, Path: r.URL.Path, Body: body, Header: r.Header.Clone()})
		status := 0
		for suffix, st := range s.failures {
			if strings.HasSuffix(r.URL.Path, suffix) {
				status = st
			}
		}
		token := s.Token
		gate := s.Gate
		s.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) gameState(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.Clock)
}

func (s *Server) settlementDetail(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsSettlement(r) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Settlement not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.Settlement)
}

func (s *Server) settlementMap(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsSettlement(r) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Settlement not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.Tiles)
}

func (s *Server) settlementEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.Events
	if evs == nil {
		evs = []api.SettlementEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) placeBuilding(w http.ResponseWriter, r *http.Request) {
	var req api.PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SettlementID == 0 || req.BuildingType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Settlement ID, building type, and tile coordinates are required."})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cost, ok := Costs[req.BuildingType]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid building type."})
		return
	}
	if req.TileX < 0 || req.TileY < 0 || req.TileX >= s.GridSize || req.TileY >= s.GridSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Tile coordinates must be between 0 and %d.", s.GridSize-1)})
		return
	}
	for _, b := range s.Settlement.Buildings {
		if b.Placed() && *b.X == req.TileX && *b.Y == req.TileY {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Tile is already occupied."})
			return
		}
	}
	for name, amount := range cost {
		have, _ := s.Settlement.Resource(name)
		if have.Amount < amount {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Insufficient resources."})
			return
		}
	}
	for i := range s.Settlement.Resources {
		s.Settlement.Resources[i].Amount -= cost[s.Settlement.Resources[i].Name]
	}
	s.nextID++
	x, y := req.TileX, req.TileY
	s.Settlement.Buildings = append(s.Settlement.Buildings, api.Building{
		ID: s.nextID, Type: req.BuildingType, X: &x, Y: &y, Assigned: "Unoccupied",
	})
	writeJSON(w, http.StatusCreated, api.PlaceResult{Message: "Building placed successfully.", BuildingID: s.nextID})
}

func (s *Server) toggleAssignment(w http.ResponseWriter, r *http.Request) {
	var req api.ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SettlementID == 0 || req.ObjectID == 0 || req.ObjectType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required parameters."})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.ObjectType {
	case api.ObjectBuilding:
		for i := range s.Settlement.Buildings {
			b := &s.Settlement.Buildings[i]
			if b.ID != req.ObjectID {
				continue
			}
			if b.Occupied() {
				s.IdleNames = append(s.IdleNames, b.Assigned)
				b.Assigned = "Unoccupied"
				writeJSON(w, http.StatusOK, api.ActionResult{Message: "Assignment cleared."})
				return
			}
			name, ok := s.takeIdle()
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No idle villagers available."})
				return
			}
			b.Assigned = name
			writeJSON(w, http.StatusOK, api.ActionResult{Message: name + " assigned to " + b.Type + "."})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Building not found in settlement."})
	case api.ObjectResourceNode:
		for i := range s.Tiles {
			for j := range s.Tiles[i].Nodes {
				n := &s.Tiles[i].Nodes[j]
				if n.ID != req.ObjectID {
					continue
				}
				if n.Gatherer != nil {
					s.IdleNames = append(s.IdleNames, n.Gatherer.Name)
					n.Gatherer = nil
					writeJSON(w, http.StatusOK, api.ActionResult{Message: "Gathering assignment cleared."})
					return
				}
				name, ok := s.takeIdle()
				if !ok {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No idle villagers available."})
					return
				}
				n.Gatherer = &api.WorkerRef{Name: name}
				writeJSON(w, http.StatusOK, api.ActionResult{Message: name + " started gathering from " + n.Name + "."})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Resource node not found in settlement."})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid object type."})
	}
}

func (s *Server) assignVillager(w http.ResponseWriter, r *http.Request) {
	var req api.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SettlementID == 0 || req.BuildingID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Settlement ID and building ID are required."})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Settlement.Buildings {
		b := &s.Settlement.Buildings[i]
		if b.ID != req.BuildingID {
			continue
		}
		name, ok := s.takeIdle()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No idle villagers available."})
			return
		}
		b.Assigned = name
		s.nextID++
		writeJSON(w, http.StatusOK, api.ActionResult{Message: "Villager assigned successfully.", SettlerID: s.nextID})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Building not found in the settlement."})
}

func (s *Server) ownsSettlement(r *http.Request) bool {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return err == nil && id == s.Settlement.ID
}

func (s *Server) takeIdle() (string, bool) {
	if len(s.IdleNames) == 0 {
		return "", false
	}
	name := s.IdleNames[0]
	s.IdleNames = s.IdleNames[1:]
	return name, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
