package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/domain"
)

// ConnectionStore persists the encrypted connection registry. Implemented
// by postgres.ConnectionStore.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, c *domain.Connection) error
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	GetConnectionByName(ctx context.Context, name string) (*domain.Connection, error)
	UpdateConnection(ctx context.Context, c *domain.Connection) error
	DeleteConnection(ctx context.Context, id string) error
	RecordConnectionTest(ctx context.Context, id, status string, testedAt time.Time) error
}

// ConnectionTester probes stored credentials against the live source.
// Implemented by connector.Registry.
type ConnectionTester interface {
	TestConnection(ctx context.Context, sourceType string, creds map[string]string) (connector.TestResult, error)
}

// CredentialBox seals credential bundles for storage. Implemented by
// crypto.Box.
type CredentialBox interface {
	EncryptJSON(creds map[string]string) (string, error)
	DecryptJSON(ciphertext string) (map[string]string, error)
}

// connectionTypes a connection may declare. Broader than the pipeline
// source enum: some types exist only as named credential stores.
var connectionTypes = map[string]bool{
	"mysql":      true,
	"postgres":   true,
	"mssql":      true,
	"salesforce": true,
	"rest_api":   true,
	"domo":       true,
	"servicenow": true,
	"s3":         true,
}

// Connection names are looser than pipeline slugs: mixed case is allowed,
// but they must start with a letter and stay between 2 and 63 characters.
var connectionNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{1,62}$`)

// MountConnectionRoutes registers connection CRUD and test routes.
func MountConnectionRoutes(r chi.Router, srv *Server) {
	read := r.With(srv.requireRole(domain.RoleReader))
	write := r.With(srv.requireRole(domain.RoleWriter))
	admin := r.With(srv.requireRole(domain.RoleAdmin))

	write.Post("/connection/create", srv.HandleCreateConnection)
	read.Get("/connection/list", srv.HandleListConnections)
	read.Get("/connection/{id}", srv.HandleGetConnection)
	write.Put("/connection/{id}", srv.HandleUpdateConnection)
	admin.Delete("/connection/{id}", srv.HandleDeleteConnection)
	write.Post("/connection/{id}/test", srv.HandleTestConnection)
}

type createConnectionRequest struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Credentials map[string]string `json:"credentials"`
}

// HandleCreateConnection registers a named, encrypted credential bundle.
// Credentials are sealed before the row is written and never returned.
// POST /api/v1/connection/create
func (s *Server) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !connectionNameRe.MatchString(req.Name) {
		errorJSON(w, "name must start with a letter, use only letters, digits, hyphens, and underscores, and be 2-63 characters",
			"INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if !connectionTypes[req.Type] {
		errorJSON(w, fmt.Sprintf("unknown connection type %q", req.Type), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	if len(req.Credentials) == 0 {
		errorJSON(w, "credentials are required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	existing, err := s.Connections.GetConnectionByName(r.Context(), req.Name)
	if err != nil {
		internalError(w, "lookup connection failed", err)
		return
	}
	if existing != nil {
		errorJSON(w, fmt.Sprintf("Connection with name %q already exists", req.Name), "ALREADY_EXISTS", http.StatusConflict)
		return
	}

	sealed, err := s.Box.EncryptJSON(req.Credentials)
	if err != nil {
		domainError(w, err)
		return
	}

	conn := &domain.Connection{
		ID:                   domain.NewID("conn"),
		Name:                 req.Name,
		Type:                 req.Type,
		Description:          req.Description,
		CredentialsEncrypted: sealed,
	}
	if err := s.Connections.CreateConnection(r.Context(), conn); err != nil {
		domainError(w, err)
		return
	}

	s.recordEvent(r.Context(), "connection_created", "", map[string]any{
		"connection_id": conn.ID,
		"type":          conn.Type,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "created",
		"connection": conn,
		"next_steps": joinSteps(
			"Test connection: POST /connection/"+conn.ID+"/test",
			"Use in pipeline: set source.connection = \""+conn.Name+"\"",
		),
	})
}

// HandleListConnections lists all connections. Credentials never included.
// GET /api/v1/connection/list
func (s *Server) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.Connections.ListConnections(r.Context())
	if err != nil {
		internalError(w, "list connections failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}

// HandleGetConnection returns one connection. Credentials never included.
// GET /api/v1/connection/{id}
func (s *Server) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.Connections.GetConnection(r.Context(), id)
	if err != nil {
		internalError(w, "get connection failed", err)
		return
	}
	if conn == nil {
		errorJSON(w, fmt.Sprintf("Connection %q not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": conn})
}

type updateConnectionRequest struct {
	Description *string           `json:"description,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// HandleUpdateConnection replaces the description and/or credentials.
// PUT /api/v1/connection/{id}
func (s *Server) HandleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Description == nil && req.Credentials == nil {
		errorJSON(w, "No fields to update", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	conn, err := s.Connections.GetConnection(r.Context(), id)
	if err != nil {
		internalError(w, "get connection failed", err)
		return
	}
	if conn == nil {
		errorJSON(w, fmt.Sprintf("Connection %q not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	if req.Description != nil {
		conn.Description = *req.Description
	}
	if req.Credentials != nil {
		sealed, err := s.Box.EncryptJSON(req.Credentials)
		if err != nil {
			domainError(w, err)
			return
		}
		conn.CredentialsEncrypted = sealed
	}

	if err := s.Connections.UpdateConnection(r.Context(), conn); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "connection": conn})
}

// HandleDeleteConnection removes a connection unless pipelines reference it.
// DELETE /api/v1/connection/{id}
func (s *Server) HandleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.Connections.GetConnection(r.Context(), id)
	if err != nil {
		internalError(w, "get connection failed", err)
		return
	}
	if conn == nil {
		errorJSON(w, fmt.Sprintf("Connection %q not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	using, err := s.Pipelines.ListPipelinesUsingConnection(r.Context(), conn.ID, conn.Name)
	if err != nil {
		internalError(w, "check connection usage failed", err)
		return
	}
	if len(using) > 0 {
		names := make([]string, len(using))
		for i, p := range using {
			names[i] = p.Name
		}
		errorJSON(w, fmt.Sprintf("Cannot delete: connection is used by pipelines: %v", names),
			"CONNECTION_IN_USE", http.StatusConflict)
		return
	}

	if err := s.Connections.DeleteConnection(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// connectionTestTimeout bounds the live probe.
const connectionTestTimeout = 10 * time.Second

// HandleTestConnection probes the stored credentials against the source and
// records the outcome on the connection row.
// POST /api/v1/connection/{id}/test
func (s *Server) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.Connections.GetConnection(r.Context(), id)
	if err != nil {
		internalError(w, "get connection failed", err)
		return
	}
	if conn == nil {
		errorJSON(w, fmt.Sprintf("Connection %q not found", id), "NOT_FOUND", http.StatusNotFound)
		return
	}

	creds, err := s.Box.DecryptJSON(conn.CredentialsEncrypted)
	if err != nil {
		domainError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionTestTimeout)
	defer cancel()

	result, err := s.Registry.TestConnection(ctx, conn.Type, creds)
	if err != nil {
		result = connector.TestResult{Status: "failed", Message: err.Error()}
	}

	if err := s.Connections.RecordConnectionTest(r.Context(), id, result.Status, time.Now().UTC()); err != nil {
		internalError(w, "record connection test failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  result.Status,
		"message": result.Message,
	})
}
