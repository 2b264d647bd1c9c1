package router

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/hellogate/internal/http/errors"
	mw "github.com/dropDatabas3/hellogate/internal/http/middlewares"
)

type handlers struct {
	keys  map[string]KeySetStatus
	certs CertStatus
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providerReadiness struct {
	Name      string     `json:"name"`
	Keys      int        `json:"keys"`
	Source    string     `json:"source,omitempty"`
	Stale     bool       `json:"stale"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

type readiness struct {
	Status     string              `json:"status"`
	Keys       int                 `json:"keys"`
	KeysStale  bool                `json:"keys_stale"`
	Providers  []providerReadiness `json:"providers,omitempty"`
	CertGen    uint64              `json:"cert_generation,omitempty"`
	CertExpiry *time.Time          `json:"cert_not_after,omitempty"`
}

// readyz responde 503 mientras algún provider no tenga claves para validar o, con TLS,
// no haya identidad instalada.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	out := readiness{Status: "ready"}
	ready := true

	names := make([]string, 0, len(h.keys))
	for name := range h.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := h.keys[name].Stats()
		pr := providerReadiness{Name: name, Keys: st.Keys, Source: st.Source, Stale: st.Stale}
		if !st.FetchedAt.IsZero() {
			t := st.FetchedAt.UTC()
			pr.FetchedAt = &t
		}
		out.Providers = append(out.Providers, pr)
		out.Keys += st.Keys
		out.KeysStale = out.KeysStale || st.Stale
		if st.Keys == 0 {
			ready = false
		}
	}
	if h.certs != nil {
		id := h.certs.Current()
		if id == nil {
			ready = false
		} else {
			t := id.NotAfter().UTC()
			out.CertExpiry = &t
			out.CertGen = h.certs.Generation()
		}
	}

	if !ready {
		out.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type whoamiResponse struct {
	Subject   string         `json:"sub"`
	Issuer    string         `json:"iss"`
	Audience  []string       `json:"aud"`
	ExpiresAt int64          `json:"exp"`
	Scopes    []string       `json:"scopes"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (h *handlers) whoami(w http.ResponseWriter, r *http.Request) {
	cl := mw.GetClaims(r.Context())
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{
		Subject:   cl.Subject(),
		Issuer:    cl.Issuer(),
		Audience:  cl.Audience(),
		ExpiresAt: cl.ExpiresAt().Unix(),
		Scopes:    cl.Scopes(),
		Extra:     cl.Extra(),
	})
}
