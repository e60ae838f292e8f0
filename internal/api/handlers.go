package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"stockpulse/internal/notify"
)

func sectionParam(r *http.Request) (notify.Section, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "section"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", notify.ErrUnknownSection, err)
	}
	return notify.ParseSection(raw)
}

func itemParam(r *http.Request) (string, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "item"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", notify.ErrUnknownSubItem, err)
	}
	return raw, nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.binding.Snapshot())
}

func (s *Server) handleHasAny(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"hasAny": s.binding.HasAny()})
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	sec, err := sectionParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.binding.GetSectionState(sec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	sec, err := sectionParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total": s.binding.TotalFor(sec)})
}

func (s *Server) handleItemFlagged(w http.ResponseWriter, r *http.Request) {
	sec, err := sectionParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	item, err := itemParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"flagged": s.binding.IsSubItemFlagged(sec, item)})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	sec, err := sectionParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.binding.Acknowledge(sec); err != nil {
		writeErr(w, err)
		return
	}
	st, _ := s.binding.GetSectionState(sec)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleItemAck(w http.ResponseWriter, r *http.Request) {
	sec, err := sectionParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	item, err := itemParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.binding.AcknowledgeItem(sec, item); err != nil {
		writeErr(w, err)
		return
	}
	st, _ := s.binding.GetSectionState(sec)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.binding.ClearAll()
	writeJSON(w, http.StatusOK, map[string]bool{"hasAny": s.binding.HasAny()})
}
