package admin

import (
	"encoding/json"
	"net/http"
)

// Register mounts the admin surface on a mux. It shares the relay's
// single configured listener with the websocket endpoint.
func (f *Facade) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/status", f.handleStatus)
	mux.HandleFunc("/admin/identities", f.handleIdentities)
	mux.HandleFunc("/admin/identity", f.handleIdentityByPhone)
	mux.HandleFunc("/admin/purge", f.handlePurge)
	mux.HandleFunc("/admin/purge/identities", f.handlePurgeIdentities)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Facade) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, f.Status())
}

func (f *Facade) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identities := f.Dump()
	writeJSON(w, http.StatusOK, map[string]any{
		"identities": identities,
		"count":      len(identities),
	})
}

func (f *Facade) handleIdentityByPhone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	phone := r.URL.Query().Get("phone")
	summary, ok := f.IdentityByPhone(phone)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (f *Facade) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, f.PurgeAll())
}

func (f *Facade) handlePurgeIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"identities": f.PurgeIdentities()})
}
