package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// AuditMiddleware spools each request body to a CachedBody before the
// wrapped handler runs, so the handler and the audit record can both read
// it in full. The spool file is cleared when the handler returns.
type AuditMiddleware struct {
	conf *Config
	db   *AuditLog
	next http.Handler
}

func NewAuditMiddleware(conf *Config, db *AuditLog, next http.Handler) *AuditMiddleware {
	return &AuditMiddleware{
		conf: conf,
		db:   db,
		next: next,
	}
}

func (m *AuditMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)

	var cached *CachedBody
	if r.Body != nil && r.Body != http.NoBody {
		original := r.Body
		var err error
		cached, err = NewCachedBody(requestID, io.LimitReader(original, m.conf.Downstream.MaxBodyBytes+1), m.conf.SpoolDir)
		original.Close()
		if err != nil {
			internalServerError(w, err)
			return
		}
		defer cached.Clear()
		if cached.Size() > m.conf.Downstream.MaxBodyBytes {
			reportError(w, http.StatusRequestEntityTooLarge)
			return
		}
		cursor, err := cached.Open()
		if err != nil {
			internalServerError(w, err)
			return
		}
		// net/http only closes the body it installed itself, so the
		// replacement cursor is ours to close
		defer cursor.Close()
		r.Body = cursor
		r = r.WithContext(withCachedBody(r.Context(), cached))
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	m.next.ServeHTTP(rec, r)

	audit := &AuditRecord{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Status:    rec.status,
	}
	if cached != nil {
		audit.BodySize = cached.Size()
		ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if ct == "application/json" && cached.Size() > 0 {
			content, err := cached.BodyContent()
			if err != nil {
				log.Println("Failed to read cached body:", err)
			} else {
				audit.Summary = summarizeJSON(content)
			}
		}
	}
	err := m.db.Insert(audit)
	if err != nil {
		log.Println("Failed to store audit record:", err)
		return
	}
	m.db.NotifyAudits()
}

// summarizeJSON reduces a JSON object body to its top-level key list, which
// is what the audit log stores instead of the body itself.
func summarizeJSON(body []byte) string {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return ""
	}
	var keys []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, quoteJSON(key.String()))
		return true
	})
	return fmt.Sprintf("{\"keys\":[%s]}", strings.Join(keys, ","))
}

// statusRecorder remembers the response status for the audit record.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type bodyKey int

const cachedBodyKey bodyKey = 1

func withCachedBody(ctx context.Context, b *CachedBody) context.Context {
	return context.WithValue(ctx, cachedBodyKey, b)
}

// CachedBodyFromContext returns the spooled body of the current request, or
// nil when the request had none.
func CachedBodyFromContext(ctx context.Context) *CachedBody {
	v := ctx.Value(cachedBodyKey)
	if v == nil {
		return nil
	}
	b, _ := v.(*CachedBody)
	return b
}
