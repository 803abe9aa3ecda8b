// Package responders writes the response shapes shared by the simulator's handlers.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as application/json with status. A nil payload writes no body.
// HTML escaping is off so redirect URLs survive unmangled.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// RedirectJSON answers a programmatic client that must follow target itself.
// Location carries target alongside the JSON payload.
func RedirectJSON(w http.ResponseWriter, target string, payload any) {
	w.Header().Set("Location", target)
	JSON(w, http.StatusOK, payload)
}

// SeeOther sends a browser to target after a form POST.
func SeeOther(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}
