package main

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
)

type Server struct {
	conf       *Config
	db         *AuditLog
	proxy      http.Handler
	httpServer http.Server
	listener   net.Listener
}

func NewServer(conf *Config, db *AuditLog, p *Proxy) (*Server, error) {
	s := &Server{
		conf:  conf,
		db:    db,
		proxy: NewAuditMiddleware(conf, db, p),
	}
	s.httpServer.Handler = handlers.CombinedLoggingHandler(os.Stdout, handlers.CompressHandler(s))
	var err error
	s.listener, err = net.Listen("tcp", conf.Downstream.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP server: %v", err)
	}
	log.Println("HTTP server is listening on", s.listener.Addr())
	return s, nil
}

func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, code := s.matchPrefix(r, s.conf.Downstream.Prefix)
	if code != http.StatusNotFound {
		if code != http.StatusOK {
			reportError(w, code)
		} else if op == "getAudits" {
			s.getAudits(w, r)
		} else {
			reportError(w, http.StatusNotFound)
		}
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) matchPrefix(r *http.Request, prefix []string) (string, int) {
	prefixSegCount := len(prefix)
	path := strings.SplitN(r.URL.EscapedPath(), "/", prefixSegCount+1)
	for i := range prefixSegCount {
		if i >= len(path) {
			return "", http.StatusNotFound
		} else if i == prefixSegCount-1 {
			seg, err := url.PathUnescape(path[i])
			if err != nil || !strings.HasPrefix(seg, prefix[i]) {
				return "", http.StatusNotFound
			}
			if seg != prefix[i]+s.conf.Downstream.AuthToken {
				return "", http.StatusUnauthorized
			}
		} else {
			seg, err := url.PathUnescape(path[i])
			if err != nil || seg != prefix[i] {
				return "", http.StatusNotFound
			}
		}
	}
	if len(path) != prefixSegCount+1 {
		return "", http.StatusNotFound
	}
	return path[prefixSegCount], http.StatusOK
}

func (s *Server) getAudits(w http.ResponseWriter, r *http.Request) {
	params := struct {
		Offset  int64  `json:"offset"`
		Limit   uint64 `json:"limit"`
		Timeout uint64 `json:"timeout"`
	}{}

	// Fetch request parameters. Malformed values fall back to zero
	params.Offset, _ = strconv.ParseInt(r.FormValue("offset"), 10, 64)
	params.Limit, _ = strconv.ParseUint(r.FormValue("limit"), 10, 64)
	params.Timeout, _ = strconv.ParseUint(r.FormValue("timeout"), 10, 64)

	// Alternatively, parameters may be submitted through JSON
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		_ = json.NewDecoder(r.Body).Decode(&params)
	}

	// Audit rows are never deleted, so when offset=0 we return the newest
	// row ID for the client to poll again with a real offset.
	if params.Offset == 0 {
		lastAuditID, err := s.db.GetLastAuditID(r.Context())
		if err != nil {
			internalServerError(w, err)
			return
		}
		h := w.Header()
		h.Set("Cache-Control", "no-cache")
		h.Set("Content-Type", "application/json")
		h.Set("X-Content-Type-Options", "nosniff")
		fmt.Fprintf(w, "{\"ok\":true,\"result\":[{\"audit_id\":%d}]}", lastAuditID)
		return
	}

	// Limit parameter range
	if params.Limit == 0 || params.Limit > 100 {
		params.Limit = 100
	}

	timer := time.After(time.Duration(params.Timeout) * time.Second)
	for {
		audit, cancel := s.db.SubscribeNextAudit()
		auditsReceived := false
		for auditJSON, err := range s.db.GetAudits(r.Context(), params.Offset, params.Limit) {
			if err != nil {
				cancel()
				internalServerError(w, err)
				return
			}
			if !auditsReceived {
				h := w.Header()
				h.Set("Cache-Control", "no-cache")
				h.Set("Content-Type", "application/json")
				h.Set("X-Content-Type-Options", "nosniff")
				w.Write([]byte("{\"ok\":true,\"result\":["))
			} else {
				w.Write([]byte{','})
			}
			auditsReceived = true
			fmt.Fprint(w, auditJSON)
		}
		if auditsReceived {
			cancel()
			w.Write([]byte("]}"))
			return
		}

		select {
		case <-timer:
			cancel()
			h := w.Header()
			h.Set("Cache-Control", "no-cache")
			h.Set("Content-Type", "application/json")
			h.Set("X-Content-Type-Options", "nosniff")
			w.Write([]byte("{\"ok\":true,\"result\":[]}"))
			return
		case <-audit:
		}
	}
}

func reportError(w http.ResponseWriter, code int) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{\"ok\":false,\"error_code\":%d,\"description\":%s}", code, quoteJSON(http.StatusText(code)))
}

func internalServerError(w http.ResponseWriter, err error) {
	debug.PrintStack()
	log.Println("Error:", err)
	reportError(w, http.StatusInternalServerError)
}
