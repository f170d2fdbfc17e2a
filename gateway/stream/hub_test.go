package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"offlinesettle/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func newEvent(eventType, id string) testEvent {
	return testEvent{&types.Event{Type: eventType, Attributes: map[string]string{"id": id}}}
}

func TestHubFiltersAndDelivers(t *testing.T) {
	hub := NewHub(4, nil)
	all, cancelAll := hub.Subscribe()
	defer cancelAll()
	finalized, cancelFinalized := hub.Subscribe("settlement.finalized")
	defer cancelFinalized()

	hub.Emit(newEvent("settlement.registered", "0x01"))
	hub.Emit(newEvent("settlement.finalized", "0x01"))

	require.Len(t, all, 2)
	require.Len(t, finalized, 1)
	var got types.Event
	require.NoError(t, json.Unmarshal(<-finalized, &got))
	require.Equal(t, "settlement.finalized", got.Type)
	require.Equal(t, "0x01", got.Attributes["id"])
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	updates, cancel := hub.Subscribe()
	hub.Emit(newEvent("a", "1"))
	hub.Emit(newEvent("a", "2"))
	require.Equal(t, 0, hub.Subscribers())

	<-updates
	_, open := <-updates
	require.False(t, open)
	cancel()
}

func TestHubStreamsOverWebsocket(t *testing.T) {
	hub := NewHub(8, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?types=settlement.disputed"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Emit(newEvent("settlement.registered", "0x02"))
	hub.Emit(newEvent("settlement.disputed", "0x02"))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got types.Event
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "settlement.disputed", got.Type)
}
