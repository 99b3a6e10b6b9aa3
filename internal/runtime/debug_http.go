package runtime

import (
	"cmp"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/orizon-lang/classrt/internal/allocator"
	"github.com/orizon-lang/classrt/internal/class"
)

// DebugSnapshot is the JSON document served at /debug/classes.
type DebugSnapshot struct {
	Running   bool                     `json:"running"`
	Registry  class.Stats              `json:"registry"`
	Allocator allocator.AllocatorStats `json:"allocator"`
	// Reservations lists live metadata reservations. Only filled in with
	// ?reservations=1 since it takes the allocator lock for a full scan.
	Reservations []Reservation `json:"reservations,omitempty"`
}

// Reservation describes one outstanding metadata reservation.
type Reservation struct {
	What string  `json:"what"`
	Size uintptr `json:"size"`
}

// Snapshot returns the current debug view of the runtime.
func (rt *Runtime) Snapshot(withReservations bool) DebugSnapshot {
	rt.mu.Lock()
	running := rt.running
	rt.mu.Unlock()

	snap := DebugSnapshot{
		Running:   running,
		Registry:  rt.classes.Stats(),
		Allocator: rt.alloc.Stats(),
	}
	if withReservations {
		for _, l := range rt.alloc.CheckLeaks() {
			snap.Reservations = append(snap.Reservations, Reservation{What: l.What, Size: l.Size})
		}
		slices.SortFunc(snap.Reservations, func(a, b Reservation) int {
			return cmp.Compare(a.What, b.What)
		})
	}
	return snap
}

// debugRoutes adds the diagnostic endpoints to mux:
//
//	GET /debug/classes                  -> JSON of DebugSnapshot
//	GET /debug/classes?reservations=1   -> same, with live reservations
func (rt *Runtime) debugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/classes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		snap := rt.Snapshot(r.URL.Query().Get("reservations") == "1")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(snap)
	})
}
