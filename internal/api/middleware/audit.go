package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/core"
)

// Execer is the slice of the database the audit writer needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// maxAuditBody is the largest request body copied into an audit entry.
const maxAuditBody = 1 << 20

type readCloser struct {
	io.Reader
	io.Closer
}

// AuditLogger is an async audit log writer.
type AuditLogger struct {
	db     Execer
	logger zerolog.Logger
	ch     chan auditEntry
	done   chan struct{}
}

type auditEntry struct {
	PrincipalKind *string
	PrincipalID   *string
	Method        string
	Path          string
	ResourceType  *string
	ResourceID    *string
	StatusCode    int
	RequestBody   json.RawMessage
}

func NewAuditLogger(db Execer, logger zerolog.Logger) *AuditLogger {
	al := &AuditLogger{
		db:     db,
		logger: logger,
		ch:     make(chan auditEntry, 1024),
		done:   make(chan struct{}),
	}
	go al.drain()
	return al
}

func (al *AuditLogger) drain() {
	defer close(al.done)
	for entry := range al.ch {
		_, err := al.db.Exec(
			// use context.Background since this is async
			context.Background(),
			`INSERT INTO audit_logs (principal_kind, principal_id, method, path, resource_type, resource_id, status_code, request_body)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.PrincipalKind, entry.PrincipalID, entry.Method, entry.Path, entry.ResourceType, entry.ResourceID, entry.StatusCode, entry.RequestBody,
		)
		if err != nil {
			al.logger.Error().Err(err).Msg("failed to write audit log")
		}
	}
}

// Close stops accepting entries and waits for the buffered ones to be written.
func (al *AuditLogger) Close() {
	close(al.ch)
	<-al.done
}

// Middleware records mutating requests made by operators and automation
// keys. It must run after authentication so the principal is known. Node
// traffic (heartbeats and callbacks) is not audited.
func (al *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		p := GetPrincipal(r.Context())
		if p != nil && p.Kind == core.PrincipalNode {
			next.ServeHTTP(w, r)
			return
		}

		// Buffer at most maxAuditBody bytes and hand the handler the full
		// stream. Larger bodies are left for the handler to reject and are
		// not recorded.
		var bodyBytes []byte
		if r.Body != nil {
			bodyBytes, _ = io.ReadAll(io.LimitReader(r.Body, maxAuditBody+1))
			r.Body = readCloser{io.MultiReader(bytes.NewReader(bodyBytes), r.Body), r.Body}
			if len(bodyBytes) > maxAuditBody {
				bodyBytes = nil
			}
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		resourceType, resourceID := extractResource(r.URL.Path)

		entry := auditEntry{
			Method:       r.Method,
			Path:         r.URL.Path,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			StatusCode:   sw.status,
		}
		if p != nil {
			kind, id := p.Kind, p.ID
			entry.PrincipalKind = &kind
			entry.PrincipalID = &id
		}
		if len(bodyBytes) > 0 && json.Valid(bodyBytes) {
			entry.RequestBody = sanitizeBody(bodyBytes)
		}

		select {
		case al.ch <- entry:
		default:
			al.logger.Warn().Msg("audit log buffer full, dropping entry")
		}
	})
}

// extractResource returns the top-level collection and the ID under it.
// /api/nodes -> nodes; /api/nodes/abc/deploy -> nodes, abc.
func extractResource(path string) (*string, *string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, nil
	}
	resourceType := parts[0]
	if len(parts) < 2 || resourceType == "auth" {
		return &resourceType, nil
	}
	resourceID := parts[1]
	return &resourceType, &resourceID
}

// sensitiveFields are fields that should be redacted from audit logs.
var sensitiveFields = map[string]bool{
	"password": true, "token": true, "api_key": true, "key": true, "secret": true,
	"envVars": true, "dockerCompose": true, "docker_compose": true,
}

func sanitizeBody(body []byte) json.RawMessage {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}
	for k := range data {
		if sensitiveFields[k] {
			data[k] = "[REDACTED]"
		}
	}
	sanitized, _ := json.Marshal(data)
	return sanitized
}
