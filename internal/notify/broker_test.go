package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEventMarshalsPayload(t *testing.T) {
	ev := NewEvent("user.42", map[string]string{"kind": "conversation_saved"})
	require.NotEmpty(t, ev.ID)
	require.Equal(t, "user.42", ev.Topic)
	require.JSONEq(t, `{"kind":"conversation_saved"}`, string(ev.Payload))
	require.False(t, ev.At.IsZero())
}

func TestNewEventUnmarshalablePayloadIsEmpty(t *testing.T) {
	ev := NewEvent("topic", func() {})
	require.NotEmpty(t, ev.ID)
	require.Empty(t, ev.Payload)
}

func TestPublishReachesTopicSubscribersOnly(t *testing.T) {
	b := NewMemoryBroker()

	var got []Event
	b.Subscribe("a", func(ev Event) { got = append(got, ev) })
	b.Subscribe("b", func(ev Event) { t.Fatal("wrong topic delivered") })

	b.Publish("a", NewEvent("a", nil))
	b.Publish("a", NewEvent("a", nil))

	require.Len(t, got, 2)
	require.NotEqual(t, got[0].ID, got[1].ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()

	var calls int
	unsubscribe := b.Subscribe("a", func(Event) { calls++ })

	b.Publish("a", NewEvent("a", nil))
	unsubscribe()
	b.Publish("a", NewEvent("a", nil))

	require.Equal(t, 1, calls)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewMemoryBroker()
	require.NotPanics(t, func() { b.Publish("empty", NewEvent("empty", nil)) })
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := NewMemoryBroker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := b.Subscribe("load", func(Event) {})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			b.Publish("load", NewEvent("load", nil))
		}()
	}
	wg.Wait()
}
