package chclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	assert.NoError(t, ValidateTableName("events"))
	assert.NoError(t, ValidateTableName("events.v2"))
	assert.Error(t, ValidateTableName(""))
	assert.Error(t, ValidateTableName("events; DROP TABLE x"))
	assert.Error(t, ValidateTableName("drop_events"))
	assert.Error(t, ValidateTableName("events$bad"))
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "siem", time.Second)
	require.NoError(t, c.Ping(context.Background()))
}

func TestClient_InsertRows_RejectsBadTableName(t *testing.T) {
	c := New("http://localhost", "siem", time.Second)
	err := c.InsertRows(context.Background(), "DROP TABLE events", [][]byte{[]byte(`{}`)})
	assert.Error(t, err)
}

func TestClient_InsertRows_PostsJSONEachRow(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "FORMAT+JSONEachRow")
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "siem", time.Second)
	err := c.InsertRows(context.Background(), "events", [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)})
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `{"a":1}`)
}

func TestClient_SelectOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("1\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "siem", time.Second)
	require.NoError(t, c.SelectOne(context.Background()))
}
