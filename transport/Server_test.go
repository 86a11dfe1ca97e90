package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/logging"
)

// serve starts a Server running handle and returns the WebSocket URL
// of its game endpoint
func serve(t *testing.T, timeout time.Duration, handle Handler) (string,
	*httptest.Server) {
	t.Helper()

	s := NewServer(ServerConfig{Path: "/play", ResponseTimeout: timeout},
		handle, prometheus.NewRegistry(), func() map[string]any {
			return map[string]any{"epsilon": 0.5}
		}, logging.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/play", ts
}

// game dials url and returns the game's end of the connection
func game(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readAction(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	m, err := DecodeMessage(data)
	require.NoError(t, err)
	return m
}

func TestServerRoundTrip(t *testing.T) {
	type received struct {
		obs []Observation
		err error
	}
	done := make(chan received, 1)

	url, _ := serve(t, time.Second, func(ctx context.Context, id string,
		tr Transport) {
		var r received
		defer func() { done <- r }()

		if r.err = tr.Send(ctx, ControlMessage(action.Reset)); r.err != nil {
			return
		}
		obs, err := tr.Receive(ctx)
		if r.err = err; err != nil {
			return
		}
		r.obs = append(r.obs, obs)

		if r.err = tr.Send(ctx, ActionMessage(action.Jump)); r.err != nil {
			return
		}
		obs, r.err = tr.Receive(ctx)
		r.obs = append(r.obs, obs)
	})

	ws := game(t, url)
	assert.Equal(t, ControlMessage(action.Reset), readAction(t, ws))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"state": [[0, 1], [1, 0]]}`)))

	assert.Equal(t, ActionMessage(action.Jump), readAction(t, ws))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"state": [[1, 1], [0, 0]], "reward": 2, "done": true}`)))

	r := <-done
	require.NoError(t, r.err)
	require.Len(t, r.obs, 2)
	assert.Equal(t, []float64{0, 1, 1, 0}, r.obs[0].State)
	assert.True(t, r.obs[0].Partial)
	assert.Equal(t, 2.0, r.obs[1].Reward)
	assert.True(t, r.obs[1].Done)
}

func TestReceiveTimesOut(t *testing.T) {
	errc := make(chan error, 1)
	url, _ := serve(t, 50*time.Millisecond, func(ctx context.Context,
		id string, tr Transport) {
		_, err := tr.Receive(ctx)
		errc <- err
	})
	game(t, url)

	err := <-errc
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsFailure(err))
}

func TestReceiveProtocolErrorKeepsConnection(t *testing.T) {
	errs := make(chan error, 2)
	url, _ := serve(t, time.Second, func(ctx context.Context, id string,
		tr Transport) {
		for i := 0; i < 2; i++ {
			_, err := tr.Receive(ctx)
			errs <- err
		}
	})

	ws := game(t, url)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"reward": 1}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"state": [1], "reward": 1, "done": false}`)))

	assert.True(t, IsProtocol(<-errs))
	assert.NoError(t, <-errs)
}

func TestReceiveReportsDisconnect(t *testing.T) {
	errc := make(chan error, 1)
	url, _ := serve(t, 0, func(ctx context.Context, id string,
		tr Transport) {
		_, err := tr.Receive(ctx)
		errc <- err
	})

	ws := game(t, url)
	require.NoError(t, ws.Close())

	err := <-errc
	assert.ErrorIs(t, err, ErrClosed)
	var terr *Error
	assert.True(t, errors.As(err, &terr))
	assert.Equal(t, "receive", terr.Op)
}

func TestDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		m, err := DecodeMessage(data)
		if err != nil || m.Control != action.Start {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"state": [5, 6]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"),
		time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, ControlMessage(action.Start)))
	obs, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, obs.State)

	_, err = Dial(ctx, "ws://127.0.0.1:1", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiveHonoursContext(t *testing.T) {
	errc := make(chan error, 1)
	url, _ := serve(t, 0, func(ctx context.Context, id string,
		tr Transport) {
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := tr.Receive(ctx)
		errc <- err
	})
	game(t, url)

	assert.ErrorIs(t, <-errc, context.DeadlineExceeded)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := serve(t, 0, func(context.Context, string, Transport) {})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 0.5, body["epsilon"])

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}
