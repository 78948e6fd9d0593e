package toolhost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/shayan1083/rbchat-backend/internal/llm"
)

func TestListTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools", r.URL.Path)
		_, _ = w.Write([]byte(`{"tools":[
			{"name":"get_items_by_brand","description":"Items filtered by brand","parameters":{"type":"object","properties":{"brand":{"type":"string"}},"required":["brand"]}},
			{"name":"run_sql_query","description":"Read-only SQL","parameters":{"type":"object","properties":{"query":{"type":"string"}}}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	defs, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "get_items_by_brand", defs[0].Name)
	assert.Equal(t, "string", gjson.GetBytes(defs[0].Parameters, "properties.brand.type").String())
}

func TestCall_SendsNameAndRawArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/call", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "get_items_by_brand", gjson.GetBytes(body, "name").String())
		assert.Equal(t, "Acme", gjson.GetBytes(body, "arguments.brand").String())
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "- **Widget**: $9.99"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	out, err := c.Call(context.Background(), "get_items_by_brand", `{"brand":"Acme"}`)
	require.NoError(t, err)
	assert.Equal(t, "- **Widget**: $9.99", out)
}

func TestCall_InvalidArgumentsFallBackToEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "arguments").IsObject())
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	out, err := c.Call(context.Background(), "count_rows", `{"truncated`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestCall_HostErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown tool"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Call(context.Background(), "nope", "{}")
	require.Error(t, err)
	var upstream *llm.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestDescribeTablesAndDatabases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schema":
			assert.Equal(t, "inventory", r.URL.Query().Get("db"))
			_ = json.NewEncoder(w).Encode(map[string]string{"description": "items(id, brand, category, price)"})
		case "/databases":
			_, _ = w.Write([]byte(`{"databases":["main","inventory"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	desc, err := c.DescribeTables(context.Background(), "inventory")
	require.NoError(t, err)
	assert.Contains(t, desc, "items(")

	names, err := c.DatabaseNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "inventory"}, names)
}

func TestHealth_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	assert.Error(t, c.Health(context.Background()))
}
