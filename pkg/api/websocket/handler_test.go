package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
)

type fakeSubscriber struct {
	events []domain.RunEvent
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, runID string, afterSeq int64) (<-chan domain.RunEvent, error) {
	if runID != "r1" {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	ch := make(chan domain.RunEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			if ev.Seq <= afterSeq {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func newTestServer(t *testing.T, sub Subscriber) *httptest.Server {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/runs/:id/ws", NewHandler(sub, zap.NewNop()).HandleRunStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHandleRunStream_StreamsThenCloses(t *testing.T) {
	sub := &fakeSubscriber{events: []domain.RunEvent{
		{RunID: "r1", Seq: 1, EventType: domain.EventTypeRunQueued},
		{RunID: "r1", Seq: 2, EventType: domain.EventTypeRunStarted},
		{RunID: "r1", Seq: 3, EventType: domain.EventTypeRunCompleted},
	}}
	srv := newTestServer(t, sub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/runs/r1/ws?after=1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []int64
	for {
		var ev domain.RunEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		got = append(got, ev.Seq)
	}
	assert.Equal(t, []int64{2, 3}, got)
}

func TestHandleRunStream_UnknownRun(t *testing.T) {
	srv := newTestServer(t, &fakeSubscriber{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/runs/nope/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRunStream_BadAfter(t *testing.T) {
	srv := newTestServer(t, &fakeSubscriber{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/runs/r1/ws?after=x"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
