package api

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

	"github.com/atmx/prediction-ledger/internal/model"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestWSHub_BroadcastsNotices(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(model.Notice{
		Type:     model.NoticeBetPlaced,
		FundID:   model.Ref(model.FundID(3)),
		Quantity: 5,
		Amount:   "50",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got model.Notice
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, model.NoticeBetPlaced, got.Type)
	require.NotNil(t, got.FundID)
	assert.Equal(t, model.FundID(3), *got.FundID)
	assert.Equal(t, "50", got.Amount)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.clientCount())
}

func TestWSHub_PublishNeverBlocks(t *testing.T) {
	hub := NewWSHub()
	// Nothing drains the buffer; extra notices are dropped.
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Publish(model.Notice{Type: model.NoticeFundCreated})
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
