package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ============================================================
// HTTP helpers for POST, PATCH, DELETE, RPC and counts
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, table, data, "return=representation")
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// insertOne posts one row and decodes the representation PostgREST returns.
func insertOne[T any](ctx context.Context, c *Client, table string, data any) (*T, error) {
	body, err := c.doPost(ctx, table, data)
	if err != nil {
		return nil, err
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode inserted %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no rows", table)
	}
	return &rows[0], nil
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, path, data, "return=minimal")
	return err
}

// doPatchCount patches and returns how many rows were touched.
func (c *Client) doPatchCount(ctx context.Context, path string, data map[string]any) (int, error) {
	return c.mutateCount(ctx, http.MethodPatch, path, data)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, "return=minimal")
	return err
}

// doDeleteCount deletes and returns how many rows were removed.
func (c *Client) doDeleteCount(ctx context.Context, path string) (int, error) {
	return c.mutateCount(ctx, http.MethodDelete, path, nil)
}

func (c *Client) mutateCount(ctx context.Context, method, path string, data any) (int, error) {
	resp, err := c.do(ctx, method, path, data, "return=minimal,count=exact")
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range")), nil
}

// doRPC invokes POST /rest/v1/rpc/<fn> with named arguments.
func (c *Client) doRPC(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.do(ctx, http.MethodPost, "rpc/"+fn, args, "")
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// doCount returns the exact number of rows of table matching filter.
func (c *Client) doCount(ctx context.Context, table, filter string) (int, error) {
	path := table + "?select=id"
	if filter != "" {
		path += "&" + filter
	}
	resp, err := c.do(ctx, http.MethodHead, path, nil, "count=exact")
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range")), nil
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(h string) int {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// eq builds a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// inList builds an "in" filter: col=in.(a,b,c).
func inList(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, ``) + `"`
	}
	return column + "=in.(" + url.QueryEscape(strings.Join(quoted, ",")) + ")"
}

// pageWindow returns limit/offset for a page, fetching one extra row so
// callers can tell whether another page exists.
func pageWindow(page, pageSize int) string {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	return fmt.Sprintf("limit=%d&offset=%d", pageSize+1, offset)
}
