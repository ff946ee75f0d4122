// Package rpcapi exposes the authorization and menu operations as JSON-RPC
// 2.0 over HTTP.
package rpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/menuadmin"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// Error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeUnauthorized   = -32001
	CodeForbidden      = -32003
	CodeNotFound       = -32004
	CodeInternal       = -32603
)

const maxBodyBytes = 1 << 20

// Resolver answers read-side questions for the caller.
type Resolver interface {
	AccessibleMenuTree(ctx context.Context, userID int64) ([]*menu.Node, error)
	HasPermission(ctx context.Context, userID int64, name string) (bool, error)
}

// AdminService performs audited administrative operations.
type AdminService interface {
	SetMenuVisibility(ctx context.Context, actor menuadmin.Actor, change menuadmin.VisibilityChange) (menuadmin.VisibilityResult, error)
	BulkSetMenuVisibility(ctx context.Context, actor menuadmin.Actor, changes []menuadmin.VisibilityChange) (menuadmin.BulkResult, error)
	VisibilityMatrix(ctx context.Context, actor menuadmin.Actor) (menuadmin.Matrix, error)
	GetAuditLog(ctx context.Context, actor menuadmin.Actor, filters audit.Filters) (audit.Page, error)
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type call struct {
	identity auth.Identity
	actor    menuadmin.Actor
	params   json.RawMessage
	language string
}

type method struct {
	// roles, when set, restricts the method to holders of one of them.
	roles []string
	run   func(ctx context.Context, c call) (any, error)
}

// Gateway is the JSON-RPC HTTP handler.
type Gateway struct {
	logger   *slog.Logger
	guard    *rbac.Guard
	resolver Resolver
	admin    AdminService
	methods  map[string]method
}

// NewGateway constructs a Gateway.
func NewGateway(logger *slog.Logger, guard *rbac.Guard, resolver Resolver, admin AdminService) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{logger: logger, guard: guard, resolver: resolver, admin: admin}
	g.methods = map[string]method{
		"menu.accessible":         {run: g.menuAccessible},
		"permission.check":        {run: g.permissionCheck},
		"menu.matrix":             {roles: []string{shared.RoleSuperAdmin}, run: g.menuMatrix},
		"menu.visibility.set":     {roles: []string{shared.RoleSuperAdmin}, run: g.visibilitySet},
		"menu.visibility.bulkSet": {roles: []string{shared.RoleSuperAdmin}, run: g.visibilityBulkSet},
		"menu.audit.list":         {run: g.auditList},
	}
	return g
}

// ServeHTTP handles one JSON-RPC request per HTTP call.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.write(w, failure(nil, CodeParseError, "parse error", nil))
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		code := CodeParseError
		message := "parse error"
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && json.Valid(trimmed) {
			code, message = CodeInvalidRequest, "invalid request"
		}
		g.write(w, failure(nil, code, message, nil))
		return
	}
	resp := g.dispatch(r, req)
	if req.ID == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.write(w, resp)
}

func (g *Gateway) dispatch(r *http.Request, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return failure(req.ID, CodeInvalidRequest, "invalid request", nil)
	}
	m, ok := g.methods[req.Method]
	if !ok {
		return failure(req.ID, CodeMethodNotFound, "method not found", nil)
	}

	ctx := r.Context()
	token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return g.fromError(req, err)
	}
	identity, err := g.guard.RequireAuth(token)
	if err != nil {
		return g.fromError(req, err)
	}
	if len(m.roles) > 0 {
		if err := g.guard.RequireRole(ctx, identity, m.roles...); err != nil {
			return g.fromError(req, err)
		}
	}
	origin := shared.OriginFromContext(ctx)
	if origin.IP == "" && origin.UserAgent == "" {
		origin = shared.OriginFromRequest(r)
	}
	c := call{
		identity: identity,
		actor:    menuadmin.Actor{UserID: identity.UserID, SourceIP: origin.IP, UserAgent: origin.UserAgent},
		params:   req.Params,
		language: r.Header.Get("Accept-Language"),
	}
	result, err := m.run(auth.ContextWithIdentity(ctx, identity), c)
	if err != nil {
		return g.fromError(req, err)
	}
	return response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (g *Gateway) fromError(req request, err error) response {
	var verr *shared.ValidationError
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return failure(req.ID, CodeUnauthorized, "authentication required", nil)
	case errors.Is(err, shared.ErrForbidden):
		return failure(req.ID, CodeForbidden, "insufficient permission", nil)
	case errors.As(err, &verr):
		return failure(req.ID, CodeInvalidParams, "invalid params", verr.Fields)
	case errors.Is(err, shared.ErrValidation):
		return failure(req.ID, CodeInvalidParams, "invalid params", nil)
	case errors.Is(err, shared.ErrNotFound):
		return failure(req.ID, CodeNotFound, "not found", nil)
	default:
		g.logger.Error("rpc call", slog.String("method", req.Method), slog.Any("error", err))
		return failure(req.ID, CodeInternal, "internal error", nil)
	}
}

func (g *Gateway) write(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Warn("rpc write", slog.Any("error", err))
	}
}

func failure(id json.RawMessage, code int, message string, data any) response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message, Data: data}, ID: id}
}

// decodeParams strictly decodes params into target; absent params decode as {}.
func decodeParams(raw json.RawMessage, target any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return shared.NewValidationError("params", "malformed params: "+err.Error())
	}
	return nil
}
