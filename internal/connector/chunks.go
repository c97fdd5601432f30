package connector

import (
	"context"

	"github.com/camdencbrown/relay/internal/tabular"
)

// sliceIterator chunks an already-materialized table. Used by connectors
// whose transport delivers the whole result at once.
type sliceIterator struct {
	table     *tabular.Table
	chunkSize int
	offset    int
}

func newSliceIterator(t *tabular.Table, chunkSize int) *sliceIterator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &sliceIterator{table: t, chunkSize: chunkSize}
}

func (it *sliceIterator) Next(ctx context.Context) (*tabular.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.offset >= len(it.table.Rows) {
		return nil, nil
	}
	end := it.offset + it.chunkSize
	if end > len(it.table.Rows) {
		end = len(it.table.Rows)
	}
	chunk := &tabular.Table{Columns: it.table.Columns, Rows: it.table.Rows[it.offset:end]}
	it.offset = end
	return chunk, nil
}

func (it *sliceIterator) Close() error { return nil }

// Collect drains an iterator into one table. Mainly for tests and the
// non-streaming fallback path.
func Collect(ctx context.Context, it ChunkIterator) (*tabular.Table, error) {
	defer it.Close()
	var out *tabular.Table
	for {
		chunk, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		if out == nil {
			out = &tabular.Table{Columns: chunk.Columns}
		}
		out.Rows = append(out.Rows, chunk.Rows...)
	}
	if out == nil {
		out = tabular.New()
	}
	return out, nil
}
