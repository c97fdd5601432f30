package domain

import "errors"

// Sentinel errors shared across packages. Call sites wrap these with
// fmt.Errorf("...: %w", err) to add identifiers; handlers match with
// errors.Is to pick HTTP statuses.
var (
	// ErrNotFound indicates a lookup by id or name matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create conflicted with an existing row.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrConnectionInUse blocks deleting a connection any pipeline references.
	ErrConnectionInUse = errors.New("connection is referenced by pipelines")

	// ErrConnectionTypeMismatch indicates a source resolved a connection of
	// a different type than its own.
	ErrConnectionTypeMismatch = errors.New("connection type does not match source type")

	// ErrInvalidTransition indicates a state change the lifecycle forbids,
	// such as reviewing a non-pending proposal or mutating a terminal run.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoData indicates a query touched a pipeline with no successful run
	// or no recorded output artifact.
	ErrNoData = errors.New("no successful run with output data")

	// ErrQueryFailed wraps the analytic engine's diagnostic for a rejected query.
	ErrQueryFailed = errors.New("query execution failed")

	// ErrUnknownMetric indicates a semantic query referenced a metric name
	// absent from the ontology.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrUnknownDimension indicates a semantic query referenced a dimension
	// name absent from the ontology.
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrCircularMetric indicates ${...} expansion revisited a metric.
	ErrCircularMetric = errors.New("circular metric reference detected")

	// ErrDisconnectedOntology indicates a semantic query touched entities
	// with no relationship path between them.
	ErrDisconnectedOntology = errors.New("no join path between entities")

	// ErrEmptyQuery indicates a semantic query named no metrics and no dimensions.
	ErrEmptyQuery = errors.New("query must include at least one metric or dimension")

	// ErrNLUnavailable indicates a natural-language query arrived with no
	// LLM configured.
	ErrNLUnavailable = errors.New("natural language queries require an LLM provider")

	// ErrUnsupportedSource indicates a source or destination type no
	// connector implements.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrEncryptionKey indicates a missing or malformed encryption key.
	ErrEncryptionKey = errors.New("invalid encryption key")

	// ErrDecryptFailed indicates ciphertext that failed authentication.
	ErrDecryptFailed = errors.New("decryption failed")
)
