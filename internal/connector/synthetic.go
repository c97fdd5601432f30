package connector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/tabular"
)

var (
	firstNames = []string{
		"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael", "Linda",
		"William", "Barbara", "David", "Elizabeth", "Richard", "Susan", "Joseph", "Jessica",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson",
	}
	countries = []string{
		"USA", "UK", "Canada", "Australia", "Germany", "France", "Spain", "Italy",
		"Brazil", "Mexico", "Japan", "South Korea", "India", "China",
	}
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// syntheticConnector generates test datasets from a column->type schema.
// Supported types: uuid, email, first_name, last_name, date, currency,
// boolean, country, integer:min:max, string:length; anything else yields
// "value_{i}" strings.
type syntheticConnector struct{}

func (c *syntheticConnector) Fetch(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	it, err := c.FetchStream(ctx, src, DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, it)
}

func (c *syntheticConnector) FetchStream(_ context.Context, src domain.SourceConfig, chunkSize int) (ChunkIterator, error) {
	total := src.Rows
	if total <= 0 {
		total = 1000
	}
	if len(src.Schema) == 0 {
		return nil, fmt.Errorf("synthetic source: missing schema")
	}
	columns := make([]string, 0, len(src.Schema))
	for col := range src.Schema {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return &syntheticIterator{
		schema:    src.Schema,
		columns:   columns,
		remaining: total,
		chunkSize: chunkSize,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

type syntheticIterator struct {
	schema    map[string]string
	columns   []string
	remaining int
	chunkSize int
	generated int
	rng       *rand.Rand
}

func (it *syntheticIterator) Next(ctx context.Context) (*tabular.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.remaining <= 0 {
		return nil, nil
	}
	n := it.chunkSize
	if n > it.remaining {
		n = it.remaining
	}
	chunk := tabular.New(it.columns...)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(it.columns))
		for _, col := range it.columns {
			row[col] = it.generate(it.schema[col], it.generated+i)
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	it.remaining -= n
	it.generated += n
	return chunk, nil
}

func (it *syntheticIterator) Close() error { return nil }

func (it *syntheticIterator) generate(colType string, seq int) any {
	switch {
	case colType == "uuid":
		return uuid.NewString()
	case colType == "email":
		first := strings.ToLower(firstNames[it.rng.Intn(len(firstNames))])
		last := strings.ToLower(lastNames[it.rng.Intn(len(lastNames))])
		return first + "." + last + "@example.com"
	case colType == "first_name":
		return firstNames[it.rng.Intn(len(firstNames))]
	case colType == "last_name":
		return lastNames[it.rng.Intn(len(lastNames))]
	case colType == "date":
		daysBack := it.rng.Intn(365 * 5)
		return time.Now().UTC().AddDate(0, 0, -daysBack).Truncate(24 * time.Hour)
	case colType == "currency":
		return math.Round((10+it.rng.Float64()*9990)*100) / 100
	case colType == "boolean":
		return it.rng.Intn(2) == 0
	case colType == "country":
		return countries[it.rng.Intn(len(countries))]
	case strings.HasPrefix(colType, "integer"):
		lo, hi := 0, 100
		parts := strings.Split(colType, ":")
		if len(parts) > 1 {
			if v, err := strconv.Atoi(parts[1]); err == nil {
				lo = v
			}
		}
		if len(parts) > 2 {
			if v, err := strconv.Atoi(parts[2]); err == nil {
				hi = v
			}
		}
		if hi < lo {
			hi = lo
		}
		return int64(lo + it.rng.Intn(hi-lo+1))
	case strings.HasPrefix(colType, "string"):
		length := 10
		if _, rest, ok := strings.Cut(colType, ":"); ok {
			if v, err := strconv.Atoi(rest); err == nil {
				length = v
			}
		}
		b := make([]byte, length)
		for i := range b {
			b[i] = letters[it.rng.Intn(len(letters))]
		}
		return string(b)
	default:
		return fmt.Sprintf("value_%d", seq)
	}
}
