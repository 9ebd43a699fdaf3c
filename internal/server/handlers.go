package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/miguell-h2o/RPWA/internal/app"
	"github.com/miguell-h2o/RPWA/internal/reddit"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.CurrentStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleRefresh enqueues a full refresh and drains it. A drain already in
// flight makes the drain half a no-op, so double-clicking refresh is safe.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	queued, err := s.app.RefreshAll(r.Context())
	if err != nil && !errors.Is(err, reddit.ErrNetworkUnavailable) {
		writeError(w, http.StatusBadGateway, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":  queued,
		"offline": errors.Is(err, reddit.ErrNetworkUnavailable),
	})
}

func (s *Server) handleFeedItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.Items(r.Context(), chi.URLParam(r, "feed"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if items == nil {
		items = []reddit.Item{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"staged": s.app.StagedCounts()[chi.URLParam(r, "feed")],
	})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	added, err := s.app.Apply(r.Context(), chi.URLParam(r, "feed"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleSetCurrentFeed(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Feed string `json:"feed"`
	}

	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	err = s.app.SetCurrentFeed(r.Context(), payload.Feed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	err := s.app.Pin(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, app.ErrUnknownItem) {
		writeError(w, http.StatusNotFound, err)

		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	err := s.app.Unpin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFollows(w http.ResponseWriter, r *http.Request) {
	names, err := s.app.Follows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"subreddits": names})
}

func (s *Server) handleImportFollows(w http.ResponseWriter, r *http.Request) {
	imported, err := s.app.ImportFollows(r.Context(), r.Body)
	if errors.Is(err, app.ErrMalformedImport) {
		writeError(w, http.StatusUnprocessableEntity, err)

		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	s.listMutation(w, r, s.app.Follow)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	s.listMutation(w, r, s.app.Unfollow)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	s.listMutation(w, r, s.app.Block)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	s.listMutation(w, r, s.app.Unblock)
}

func (s *Server) listMutation(
	w http.ResponseWriter,
	r *http.Request,
	mutate func(ctx context.Context, name string) error,
) {
	err := mutate(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, app.ErrMalformedImport) {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	names, err := s.app.Blocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"subreddits": names})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.About(r.Context(), chi.URLParam(r, "name"))

	var statusErr *reddit.StatusError

	switch {
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	err := s.app.ClearFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
