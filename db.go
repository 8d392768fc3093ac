package main

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type AuditLog struct {
	conn            *sql.DB
	auditMutex      *sync.Mutex
	auditQueue      map[uint64]chan<- struct{}
	nextCancelToken uint64
}

type AuditRecord struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	BodySize  int64
	Summary   string // raw JSON, empty when the body was not JSON
}

func OpenAuditLog(conf *Config) (*AuditLog, error) {
	conn, err := sql.Open("sqlite3", conf.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	_, err = conn.Exec(
		"BEGIN;" +
			"CREATE TABLE IF NOT EXISTS audits (id INTEGER PRIMARY KEY, at TEXT NOT NULL, request_id TEXT NOT NULL, method TEXT NOT NULL, path TEXT NOT NULL, status INTEGER NOT NULL, body_size INTEGER NOT NULL, summary JSONB);" +
			"COMMIT;")
	if err != nil {
		return nil, fmt.Errorf("failed to write to database: %v", err)
	}
	return &AuditLog{
		conn:       conn,
		auditQueue: make(map[uint64]chan<- struct{}),
		auditMutex: new(sync.Mutex),
	}, nil
}

func (d *AuditLog) Close() error {
	return d.conn.Close()
}

func (d *AuditLog) SubscribeNextAudit() (<-chan struct{}, func()) {
	c := make(chan struct{})
	d.auditMutex.Lock()
	token := d.nextCancelToken
	d.nextCancelToken++
	d.auditQueue[token] = c
	d.auditMutex.Unlock()
	return c, func() {
		d.auditMutex.Lock()
		delete(d.auditQueue, token)
		d.auditMutex.Unlock()
	}
}

func (d *AuditLog) NotifyAudits() {
	d.auditMutex.Lock()
	for _, v := range d.auditQueue {
		close(v)
	}
	clear(d.auditQueue)
	d.auditMutex.Unlock()
}

func (d *AuditLog) Insert(rec *AuditRecord) error {
	summary := sql.NullString{String: rec.Summary, Valid: len(rec.Summary) != 0}
	_, err := d.conn.Exec(
		"INSERT INTO audits (at, request_id, method, path, status, body_size, summary) VALUES (?, ?, ?, ?, ?, ?, jsonb(?));",
		time.Now().UTC().Format(time.RFC3339Nano), rec.RequestID, rec.Method, rec.Path, rec.Status, rec.BodySize, summary,
	)
	if err != nil {
		return fmt.Errorf("database error: %v", err)
	}
	return nil
}

func (d *AuditLog) GetLastAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := d.conn.QueryRowContext(ctx, "SELECT MAX(id) FROM audits;").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database error: %v", err)
	}
	return id.Int64, nil
}

func (d *AuditLog) GetAudits(ctx context.Context, offset int64, limit uint64) iter.Seq2[string, error] {
	var rows *sql.Rows
	var err error
	if offset > 0 {
		rows, err = d.conn.QueryContext(ctx, "SELECT id, at, request_id, method, path, status, body_size, json(summary) FROM audits WHERE id >= ? ORDER BY id ASC LIMIT ?;", offset, limit)
	} else {
		rows, err = d.conn.QueryContext(ctx, "SELECT id, at, request_id, method, path, status, body_size, json(summary) FROM (SELECT * FROM audits ORDER BY id DESC LIMIT ?) ORDER BY id ASC LIMIT ?;", -offset, limit)
	}
	if err != nil {
		return func(yield func(string, error) bool) {
			yield("", fmt.Errorf("database error: %v", err))
		}
	}
	return func(yield func(string, error) bool) {
		for rows.Next() {
			var id uint64
			var at, requestID, method, path string
			var status int
			var bodySize int64
			var summary sql.NullString
			err := rows.Scan(&id, &at, &requestID, &method, &path, &status, &bodySize, &summary)
			if err != nil {
				yield("", fmt.Errorf("database error: %v", err))
				rows.Close()
				return
			}

			auditJSON := fmt.Sprintf(
				"{\"audit_id\":%d,\"at\":%s,\"request_id\":%s,\"method\":%s,\"path\":%s,\"status\":%d,\"body_size\":%d",
				id, quoteJSON(at), quoteJSON(requestID), quoteJSON(method), quoteJSON(path), status, bodySize,
			)
			if summary.Valid {
				auditJSON += ",\"summary\":" + summary.String
			}
			auditJSON += "}"
			if !yield(auditJSON, nil) {
				rows.Close()
				return
			}
		}
		err := rows.Err()
		if err != nil {
			yield("", fmt.Errorf("database error: %v", err))
		}
		rows.Close()
	}
}
