// Package web serves a repository over HTTP for remote sync.
//
// The surface is deliberately small and stateless: object existence,
// object bytes, tag histories, and tag pushes. Everything else stays
// a local concern.
package web

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/stratumfs/stratum/pkg/repo"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes a repository to remote peers.
type Server struct {
	repo *repo.Repository
	l    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// Logger sets the logger used by request handlers.
func Logger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// NewServer creates a server over the given repository.
func NewServer(r *repo.Repository, opts ...Option) *Server {
	s := &Server{
		repo: r,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.l.Error("encoding response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
