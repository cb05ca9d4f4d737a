// handlers_rpc_test.go - Tests for the envelope transports
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"kerf/driver"
	"kerf/rpc"
)

const squareGenerate = `{"id":"g1","type":"core.generateGcode","payload":{
	"document":{
		"layers":[{"id":"l1","name":"Cut","visible":true,"operationId":"cut"}],
		"objects":[{"type":"path","id":"sq","layerId":"l1","transform":[1,0,0,1,0,0],"closed":true,
			"points":[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":10},{"x":0,"y":10}]}]
	},
	"settings":{"operations":[{"id":"cut","mode":"line","speed":600,"power":50,"passes":1}]}
}}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	e, handlers := NewServer(&Dependencies{
		Dispatcher: rpc.NewDispatcher(),
		Driver:     driver.NewVirtual(driver.WithDwellScale(0)),
		Version:    "test",
	}, false)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		handlers.Device.Jobs().Wait()
	})
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestRPCGenerate(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rpc", "application/json", strings.NewReader(squareGenerate))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ID      string             `json:"id"`
		Type    string             `json:"type"`
		Payload rpc.GenerateResult `json:"payload"`
		Error   *rpc.Error         `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Nil(t, out.Error)
	assert.Equal(t, "g1", out.ID)
	assert.Equal(t, rpc.TypeGenerateGcode, out.Type)
	assert.Contains(t, out.Payload.Gcode, "G1 X10.000 Y0.000 F600")
	assert.Equal(t, 4, out.Payload.Stats.Segments)
}

func TestRPCErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rpc", "application/json", strings.NewReader(`{"id":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/rpc", "application/json", strings.NewReader(`{"id":"x","type":"core.nope"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out rpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.CodeUnknownType, out.Error.Code)
}

func TestRPCMsgpack(t *testing.T) {
	srv := newTestServer(t)

	var generic map[string]any
	require.NoError(t, json.Unmarshal([]byte(squareGenerate), &generic))
	body, err := msgpack.Marshal(generic)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/rpc/msgpack", MIMEApplicationMsgpack, bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, MIMEApplicationMsgpack, resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, msgpack.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "g1", out["id"])
	assert.Nil(t, out["error"])
	payload, ok := out["payload"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload["gcode"], "M4 S500")
}

func TestRPCMsgpackInvalid(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rpc/msgpack", MIMEApplicationMsgpack, bytes.NewReader([]byte{0xc1}))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketEnvelopes(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"p1","type":"worker.ping"}`)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ping struct {
		ID      string         `json:"id"`
		Payload rpc.PingResult `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &ping))
	assert.Equal(t, "p1", ping.ID)
	assert.True(t, ping.Payload.Pong)
	assert.Equal(t, rpc.Version, ping.Payload.Version)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(squareGenerate)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	var gen rpc.Response
	require.NoError(t, json.Unmarshal(data, &gen))
	assert.Equal(t, "g1", gen.ID)
	assert.Nil(t, gen.Error)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	var bad rpc.Response
	require.NoError(t, json.Unmarshal(data, &bad))
	require.NotNil(t, bad.Error)
	assert.Equal(t, rpc.CodeBadPayload, bad.Error.Code)
}

func TestDeviceRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/device/connect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/device/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "IDLE", raw["state"])

	resp, err = http.Get(srv.URL + "/api/device/jobs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
