package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/core"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

// withOperator injects an operator principal into the request context.
func withOperator(r *http.Request, admin bool) *http.Request {
	return r.WithContext(mw.WithPrincipal(r.Context(), &core.Principal{
		Kind:      core.PrincipalOperator,
		ID:        "op-1",
		Name:      "alice",
		Admin:     admin,
		SessionID: "sess-1",
	}))
}

// withNode injects a node principal into the request context.
func withNode(r *http.Request, nodeID string) *http.Request {
	return r.WithContext(mw.WithPrincipal(r.Context(), &core.Principal{Kind: core.PrincipalNode, ID: nodeID}))
}

const validID = "test-id-1"
