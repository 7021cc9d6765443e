package vmservice_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailofbits/dartcov/vmservice"
)

// newFakeVMServiceServer starts an httptest server that upgrades to a websocket and answers
// getVersion requests with a fixed version string, echoing back the request ID.
func newFakeVMServiceServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req struct {
				ID     string `json:"id"`
				Method string `json:"method"`
			}
			require.NoError(t, json.Unmarshal(message, &req))

			resp := map[string]any{"id": req.ID}
			switch req.Method {
			case "getVersion":
				resp["result"] = map[string]any{"major": 4, "minor": 13}
			default:
				resp["result"] = map[string]any{}
			}

			payload, err := json.Marshal(resp)
			require.NoError(t, err)
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	})

	return httptest.NewServer(handler)
}

func TestConnectAndGetVersion(t *testing.T) {
	server := newFakeVMServiceServer(t)
	defer server.Close()

	httpURL := "http" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := vmservice.Connect(ctx, httpURL, time.Second)
	require.NoError(t, err)
	defer client.Dispose()

	version, err := client.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.13", version)
}

func TestConnectTimesOutAgainstUnreachableAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := vmservice.Connect(ctx, "http://127.0.0.1:1", 150*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, vmservice.ErrConnectTimeout)
}

func TestConnectRejectsUnsupportedScheme(t *testing.T) {
	_, err := vmservice.Connect(context.Background(), "ftp://example.com", time.Second)
	require.Error(t, err)
}
