// Package connector implements the source registry: every pipeline source
// type maps to a Connector that produces a tabular.Table, with optional
// streaming and connection-test capabilities layered on top.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/camdencbrown/relay/internal/crypto"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/tabular"
)

const (
	// DefaultChunkSize is the row count per streamed chunk.
	DefaultChunkSize = 10000

	fetchTimeout = 30 * time.Second
)

// Connector fetches a source into memory.
type Connector interface {
	Fetch(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error)
}

// StreamingConnector fetches a source as an iterator of bounded chunks.
type StreamingConnector interface {
	FetchStream(ctx context.Context, src domain.SourceConfig, chunkSize int) (ChunkIterator, error)
}

// ConnectionTester verifies reachability with a credential bundle. Results
// are reported, never raised: a failed probe is a valid outcome.
type ConnectionTester interface {
	TestConnection(ctx context.Context, creds map[string]string) TestResult
}

// ChunkIterator yields tables of at most the requested chunk size. Next
// returns (nil, nil) once the source is exhausted.
type ChunkIterator interface {
	Next(ctx context.Context) (*tabular.Table, error)
	Close() error
}

// TestResult is the outcome of a connectivity probe.
type TestResult struct {
	Status  string `json:"status"` // "success" or "failed"
	Message string `json:"message"`
}

// ConnectionSource looks up stored connections by name. Implemented by
// postgres.ConnectionStore.
type ConnectionSource interface {
	GetConnectionByName(ctx context.Context, name string) (*domain.Connection, error)
}

// Registry dispatches source configs to connectors and resolves named
// connections into credential bundles before the fetch.
type Registry struct {
	connectors map[domain.SourceType]Connector
	conns      ConnectionSource
	box        *crypto.Box
	logger     *slog.Logger
}

// NewRegistry builds a registry with every built-in connector installed.
func NewRegistry(conns ConnectionSource, box *crypto.Box, logger *slog.Logger) *Registry {
	httpClient := &http.Client{Timeout: fetchTimeout}
	web := &httpConnector{client: httpClient}
	return &Registry{
		connectors: map[domain.SourceType]Connector{
			domain.SourceCSVURL:     web,
			domain.SourceJSONURL:    web,
			domain.SourceRESTAPI:    web,
			domain.SourcePostgres:   &sqlConnector{sourceType: domain.SourcePostgres},
			domain.SourceMySQL:      &sqlConnector{sourceType: domain.SourceMySQL},
			domain.SourceMSSQL:      &sqlConnector{sourceType: domain.SourceMSSQL},
			domain.SourceSalesforce: &salesforceConnector{client: httpClient},
			domain.SourceSynthetic:  &syntheticConnector{},
		},
		conns:  conns,
		box:    box,
		logger: logger.With("component", "connector"),
	}
}

// Supports reports whether a connector is registered for the source type.
func (r *Registry) Supports(sourceType string) bool {
	_, ok := r.connectors[domain.SourceType(sourceType)]
	return ok
}

// SupportsStreaming reports whether the source type's connector can stream.
func (r *Registry) SupportsStreaming(sourceType string) bool {
	c, ok := r.connectors[domain.SourceType(sourceType)]
	if !ok {
		return false
	}
	_, ok = c.(StreamingConnector)
	return ok
}

func (r *Registry) lookup(sourceType string) (Connector, error) {
	c, ok := r.connectors[domain.SourceType(sourceType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, sourceType)
	}
	return c, nil
}

// Fetch resolves the source's named connection, if any, then runs the
// connector for its type.
func (r *Registry) Fetch(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	c, err := r.lookup(src.Type)
	if err != nil {
		return nil, err
	}
	resolved, err := r.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, resolved)
}

// FetchStream is Fetch for chunked sources. Chunk size 0 means the default.
func (r *Registry) FetchStream(ctx context.Context, src domain.SourceConfig, chunkSize int) (ChunkIterator, error) {
	c, err := r.lookup(src.Type)
	if err != nil {
		return nil, err
	}
	sc, ok := c.(StreamingConnector)
	if !ok {
		return nil, fmt.Errorf("source type %s does not support streaming", src.Type)
	}
	resolved, err := r.Resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return sc.FetchStream(ctx, resolved, chunkSize)
}

// TestConnection probes a credential bundle for the given source type. The
// result is always a report; only an unknown type is an error.
func (r *Registry) TestConnection(ctx context.Context, sourceType string, creds map[string]string) (TestResult, error) {
	c, err := r.lookup(sourceType)
	if err != nil {
		return TestResult{}, err
	}
	tester, ok := c.(ConnectionTester)
	if !ok {
		return TestResult{Status: "success", Message: "connection test not applicable for this source type"}, nil
	}
	return tester.TestConnection(ctx, creds), nil
}

// Resolve merges a named connection's decrypted credentials into the source
// config. Fields supplied inline on the source win over stored values. The
// connection's type must match the source's type.
func (r *Registry) Resolve(ctx context.Context, src domain.SourceConfig) (domain.SourceConfig, error) {
	if src.Connection == "" {
		return src, nil
	}
	conn, err := r.conns.GetConnectionByName(ctx, src.Connection)
	if err != nil {
		return src, fmt.Errorf("resolve connection %q: %w", src.Connection, err)
	}
	if conn == nil {
		return src, fmt.Errorf("connection %q: %w", src.Connection, domain.ErrNotFound)
	}
	if conn.Type != src.Type {
		return src, fmt.Errorf("connection %q is type %s, source is type %s: %w",
			src.Connection, conn.Type, src.Type, domain.ErrConnectionTypeMismatch)
	}
	stored, err := r.box.DecryptJSON(conn.CredentialsEncrypted)
	if err != nil {
		return src, fmt.Errorf("decrypt connection %q: %w", src.Connection, err)
	}
	merged := make(map[string]string, len(stored)+len(src.Credentials))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range src.Credentials {
		merged[k] = v
	}
	src.Credentials = merged
	r.logger.Debug("resolved connection", "connection", conn.Name, "type", conn.Type)
	return src, nil
}
