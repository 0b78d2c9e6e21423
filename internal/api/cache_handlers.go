package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/lifecycle"
)

// hopHeaders are not replayed from stored responses.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

type cacheStatusResponse struct {
	Version     string   `json:"version"`
	Phase       string   `json:"phase"`
	Active      bool     `json:"active"`
	AppShell    []string `json:"app_shell"`
	Generations []string `json:"generations"`
}

func (s *Server) cacheStatus(w http.ResponseWriter, r *http.Request) {
	names, err := s.info.Generations(r.Context())
	if err != nil {
		s.logger.Error("list generations failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list cache generations")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, cacheStatusResponse{
		Version:     s.info.Version(),
		Phase:       string(s.host.Phase()),
		Active:      s.host.Active(),
		AppShell:    s.info.AppShell(),
		Generations: names,
	})
}

func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Install(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": s.info.Version(),
		"phase":   string(s.host.Phase()),
	})
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	purged, err := s.host.Activate(r.Context())
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if purged == nil {
		purged = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": s.info.Version(),
		"purged":  purged,
	})
}

func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	resp, hit, err := s.host.Fetch(r.Context(), key)
	switch {
	case errors.Is(err, lifecycle.ErrNotActive):
		s.writeError(w, http.StatusServiceUnavailable, "cache is not active")
		return
	case err != nil:
		s.logger.Warn("fetch failed", zap.String("url", key), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}

	header := w.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	if hit {
		header.Set("X-Cache", "hit")
	} else {
		header.Set("X-Cache", "miss")
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("write cached body failed", zap.Error(err))
	}
}
