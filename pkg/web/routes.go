package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	casstatus "github.com/stratumfs/stratum/pkg/cas/status"
	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	tagstatus "github.com/stratumfs/stratum/pkg/tags/status"
	"go.uber.org/zap"
)

// maxObjectBody caps a single object upload; trees and layers are
// small, and blobs beyond this do not belong in one request.
const maxObjectBody = 1 << 30

// InitRouter wires the sync API onto a fresh router.
func InitRouter(srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Head("/objects/{digest}", srv.HandleHasObject())
	r.Get("/objects/{digest}", srv.HandleGetObject())
	r.Put("/objects/{digest}", srv.HandlePutObject())

	r.Get("/tags", srv.HandleListTags())
	r.Get("/tags/*", srv.HandleTagHistory())
	r.Post("/tags/*", srv.HandlePushTag())

	return r
}

func (s *Server) digestParam(w http.ResponseWriter, r *http.Request) (model.Digest, bool) {
	d, err := model.ParseDigest(chi.URLParam(r, "digest"))
	if err != nil {
		http.Error(w, "bad digest", http.StatusBadRequest)
		return model.NullDigest, false
	}
	return d, true
}

// HandleHasObject answers existence checks during sync handshakes.
func (s *Server) HandleHasObject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.digestParam(w, r)
		if !ok {
			return
		}
		has, err := s.repo.HasObject(r.Context(), d)
		if err != nil {
			s.l.Error("object check", zap.String("digest", d.String()), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !has {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HandleGetObject returns stored object bytes.
func (s *Server) HandleGetObject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.digestParam(w, r)
		if !ok {
			return
		}
		data, err := s.repo.GetObject(r.Context(), d)
		if err != nil {
			if errors.Is(err, casstatus.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			s.l.Error("object read", zap.String("digest", d.String()), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	}
}

// HandlePutObject stores uploaded bytes, rejecting content that does
// not hash to the digest in the URL.
func (s *Server) HandlePutObject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.digestParam(w, r)
		if !ok {
			return
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, maxObjectBody))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stored, err := s.repo.PutObjectBytes(r.Context(), data)
		if err != nil {
			s.l.Error("object write", zap.String("digest", d.String()), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if stored != d {
			http.Error(w, "content does not match digest", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// HandleListTags returns all tag names.
func (s *Server) HandleListTags() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := s.repo.Tags().Names(r.Context())
		if err != nil {
			s.l.Error("tag list", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if names == nil {
			names = []string{}
		}
		s.writeJSON(w, http.StatusOK, names)
	}
}

// HandleTagHistory returns the full ordered history of a tag. Tag
// names may contain path separators, so the name is the wildcard tail
// minus the trailing "/history".
func (s *Server) HandleTagHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tail := chi.URLParam(r, "*")
		name := strings.TrimSuffix(tail, "/history")
		if name == tail || name == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		history, err := s.repo.TagHistory(r.Context(), name)
		if err != nil {
			if errors.Is(err, tagstatus.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			s.l.Error("tag history", zap.String("tag", name), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, history)
	}
}

// HandlePushTag appends a tag entry pushed by a peer. A parent that
// no longer matches the current head is a conflict.
func (s *Server) HandlePushTag() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var entry model.TagEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			http.Error(w, "bad tag entry", http.StatusBadRequest)
			return
		}
		if entry.Name != name {
			http.Error(w, "entry name does not match URL", http.StatusBadRequest)
			return
		}
		if err := s.repo.PushTagRaw(r.Context(), &entry); err != nil {
			if errors.Is(err, tagstatus.ErrTagConflict) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			s.l.Error("tag push", zap.String("tag", name), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}
