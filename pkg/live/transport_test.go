package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialerRejectedHandshakeIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewWebSocketDialer().Dial(context.Background(), wsURL(srv), nil)
	le := requireCode(t, err, ErrCodeAuthFailed)
	status, ok := le.GetDetail("status_code")
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWebSocketConnEchoesFrames(t *testing.T) {
	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer().Dial(context.Background(), wsURL(srv), http.Header{"User-Agent": {userAgent}})
	require.NoError(t, err)
	assert.Equal(t, userAgent, (<-headers).Get("User-Agent"))

	require.NoError(t, conn.WriteMessage(Message{Data: []byte(`{"setupComplete":{}}`)}))
	msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.False(t, msg.Binary)
	assert.Equal(t, `{"setupComplete":{}}`, string(msg.Data))

	require.NoError(t, conn.WriteMessage(Message{Binary: true, Data: []byte{1, 2, 3}}))
	msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, msg.Binary)
	assert.Equal(t, []byte{1, 2, 3}, msg.Data)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestIsNormalClose(t *testing.T) {
	assert.True(t, isNormalClose(nil))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, isNormalClose(errors.New("connection reset")))
}
