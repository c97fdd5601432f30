package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/tabular"
)

// responseListKeys are the envelope keys REST APIs commonly wrap record
// lists in, probed in order.
var responseListKeys = []string{"data", "results", "items", "records"}

// httpConnector serves csv_url, json_url and rest_api sources.
type httpConnector struct {
	client *http.Client
}

func (c *httpConnector) Fetch(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	switch domain.SourceType(src.Type) {
	case domain.SourceCSVURL:
		return c.fetchCSV(ctx, src)
	case domain.SourceJSONURL, domain.SourceRESTAPI:
		return c.fetchJSON(ctx, src)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, src.Type)
}

// FetchStream downloads the source once and yields it in bounded chunks.
// Remote files and REST responses arrive whole, so chunking happens after
// the parse.
func (c *httpConnector) FetchStream(ctx context.Context, src domain.SourceConfig, chunkSize int) (ChunkIterator, error) {
	t, err := c.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(t, chunkSize), nil
}

func (c *httpConnector) request(ctx context.Context, src domain.SourceConfig) (*http.Response, error) {
	method := src.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	if token := src.Credentials["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if user := src.Credentials["username"]; user != "" {
		req.SetBasicAuth(user, src.Credentials["password"])
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", src.URL, resp.StatusCode)
	}
	return resp, nil
}

func (c *httpConnector) fetchCSV(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	resp, err := c.request(ctx, src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseCSV(resp.Body)
}

func parseCSV(r io.Reader) (*tabular.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return tabular.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	t := tabular.New(header...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = coerceCSVValue(record[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// coerceCSVValue types a CSV cell: int, float, bool, null, else string.
func coerceCSVValue(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func (c *httpConnector) fetchJSON(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	resp, err := c.request(ctx, src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", src.URL, err)
	}
	return tableFromJSON(payload)
}

// tableFromJSON accepts a record list, an envelope object holding a record
// list under a well-known key, or a single object treated as one row.
func tableFromJSON(payload any) (*tabular.Table, error) {
	switch v := payload.(type) {
	case []any:
		return tableFromRecords(v)
	case map[string]any:
		for _, key := range responseListKeys {
			if inner, ok := v[key].([]any); ok {
				return tableFromRecords(inner)
			}
		}
		return tabular.FromRows([]map[string]any{v}), nil
	}
	return nil, fmt.Errorf("unsupported response shape %T", payload)
}

func tableFromRecords(records []any) (*tabular.Table, error) {
	rows := make([]map[string]any, 0, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, want object", i, rec)
		}
		rows = append(rows, obj)
	}
	return tabular.FromRows(rows), nil
}
