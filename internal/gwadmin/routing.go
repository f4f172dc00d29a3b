package gwadmin

import "net/http"

func (s *Server) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetStats())
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearSessions()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeAdminError(w, http.StatusServiceUnavailable, "not_running", "proxy not attached")
		return
	}
	writeJSON(w, http.StatusOK, s.proxy.Status())
}
