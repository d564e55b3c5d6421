package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type OpsHandlers struct {
	sessions SessionInspector
	conns    ConnInspector
	db       Pinger
}

func NewOpsHandlers(sessions SessionInspector, conns ConnInspector, db Pinger) *OpsHandlers {
	return &OpsHandlers{sessions: sessions, conns: conns, db: db}
}

// Health stays 200 when the journal database is down; match play does not depend on it.
func (h *OpsHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"ok":          true,
			"sessions":    h.sessions.SessionCount(),
			"connections": h.conns.Count(),
		}
		if h.db != nil {
			if err := h.db.Ping(r.Context()); err != nil {
				body["db"] = "down"
			} else {
				body["db"] = "up"
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}
}

func (h *OpsHandlers) Session() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricSessionLookupsTotal.Add(1)
		info, ok := h.sessions.Snapshot(chi.URLParam(r, "game_id"))
		if !ok {
			WriteHTTPError(w, http.StatusNotFound, "session_not_found")
			return
		}
		WriteJSON(w, http.StatusOK, info)
	}
}

type connectionView struct {
	UserID      string `json:"userId"`
	MissedPings int    `json:"missedPings"`
	RTTMS       int64  `json:"rttMs"`
	Quality     string `json:"quality"`
	LastPong    string `json:"lastPong,omitempty"`
}

func (h *OpsHandlers) Connections() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		statuses := h.conns.Statuses()
		items := make([]connectionView, 0, len(statuses))
		for uid, st := range statuses {
			v := connectionView{
				UserID:      uid,
				MissedPings: st.MissedPings,
				RTTMS:       st.RTT.Milliseconds(),
				Quality:     string(st.Quality),
			}
			if !st.LastPong.IsZero() {
				v.LastPong = st.LastPong.UTC().Format(time.RFC3339)
			}
			items = append(items, v)
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	}
}
