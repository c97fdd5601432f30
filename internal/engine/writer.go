package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/storage"
	"github.com/camdencbrown/relay/internal/tabular"
)

// timestampLayout names artifacts by UTC write time.
const timestampLayout = "2006-01-02-150405"

// WriteResult summarizes what a streamed write produced.
type WriteResult struct {
	TotalRows    int64    `json:"total_rows"`
	TotalChunks  int      `json:"total_chunks"`
	FilesWritten []string `json:"files_written"`
	PrimaryFile  string   `json:"primary_file"`
	WorkersUsed  int      `json:"workers_used,omitempty"`
}

// Writer encodes tables and lands them in the artifact store.
type Writer struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewWriter wraps an object store.
func NewWriter(store storage.ObjectStore, logger *slog.Logger) *Writer {
	return &Writer{store: store, logger: logger.With("component", "writer")}
}

// WriteTable encodes one whole table and writes a single artifact, returning
// its URI.
func (w *Writer) WriteTable(ctx context.Context, t *tabular.Table, dest domain.DestinationConfig, opts domain.PipelineOptions) (string, error) {
	name := time.Now().UTC().Format(timestampLayout)
	return w.writeOne(ctx, t, dest, opts, name)
}

func (w *Writer) writeOne(ctx context.Context, t *tabular.Table, dest domain.DestinationConfig, opts domain.PipelineOptions, name string) (string, error) {
	data, ext, err := encodeTable(t, opts)
	if err != nil {
		return "", err
	}
	key := path.Join(strings.Trim(dest.Path, "/"), name+ext)
	uri, err := w.store.Put(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("write artifact %s: %w", key, err)
	}
	return uri, nil
}

// WriteStream drains the iterator and writes each chunk as its own artifact,
// in parallel, unless combine_chunks collapses them into one file first. The
// first chunk failure aborts the whole write.
func (w *Writer) WriteStream(ctx context.Context, it connector.ChunkIterator, dest domain.DestinationConfig, opts domain.PipelineOptions) (*WriteResult, error) {
	defer it.Close()

	// Chunks are collected before writing so the pool can be sized by
	// chunk count and chunk files keep their ordinal names.
	var chunks []*tabular.Table
	var totalRows int64
	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read source chunk: %w", err)
		}
		if chunk == nil {
			break
		}
		chunks = append(chunks, chunk)
		totalRows += int64(chunk.NumRows())
	}

	if opts.CombineChunks {
		combined := tabular.New()
		if len(chunks) > 0 {
			combined.Columns = chunks[0].Columns
		}
		for _, c := range chunks {
			combined.Rows = append(combined.Rows, c.Rows...)
		}
		uri, err := w.WriteTable(ctx, combined, dest, opts)
		if err != nil {
			return nil, err
		}
		return &WriteResult{
			TotalRows:    totalRows,
			TotalChunks:  len(chunks),
			FilesWritten: []string{uri},
			PrimaryFile:  uri,
		}, nil
	}

	workers := workersFor(len(chunks))
	w.logger.Info("writing chunks", "chunks", len(chunks), "workers", workers)

	timestamp := time.Now().UTC().Format(timestampLayout)
	uris := make([]string, len(chunks))
	jobs := make(chan int)
	errOnce := sync.Once{}
	var firstErr error
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				name := fmt.Sprintf("%s_chunk_%06d", timestamp, idx)
				uri, err := w.writeOne(writeCtx, chunks[idx], dest, opts, name)
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				uris[idx] = uri
			}
		}()
	}

feed:
	for i := range chunks {
		select {
		case jobs <- i:
		case <-writeCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &WriteResult{
		TotalRows:    totalRows,
		TotalChunks:  len(chunks),
		FilesWritten: uris,
		WorkersUsed:  workers,
	}
	if len(uris) > 0 {
		result.PrimaryFile = uris[0]
	}
	return result, nil
}

// workersFor scales the write pool by chunk count.
func workersFor(chunks int) int {
	switch {
	case chunks <= 10:
		return 2
	case chunks <= 100:
		return 5
	case chunks <= 1000:
		return 10
	default:
		return 20
	}
}

// encodeTable renders the table in the pipeline's format, returning the
// bytes and the file extension.
func encodeTable(t *tabular.Table, opts domain.PipelineOptions) ([]byte, string, error) {
	format := opts.Format
	if format == "" {
		format = "parquet"
	}
	gz := opts.Compression == "gzip"
	switch format {
	case "parquet":
		compression := opts.Compression
		if compression == "" {
			compression = "snappy"
		}
		data, err := tabular.EncodeParquet(t, compression)
		return data, ".parquet", err
	case "csv":
		data, err := tabular.EncodeCSV(t, gz)
		ext := ".csv"
		if gz {
			ext += ".gz"
		}
		return data, ext, err
	case "json":
		data, err := tabular.EncodeJSON(t, gz)
		ext := ".json"
		if gz {
			ext += ".gz"
		}
		return data, ext, err
	}
	return nil, "", fmt.Errorf("unsupported format: %s", format)
}
