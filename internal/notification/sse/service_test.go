package sse

import (
	"testing"

	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesOnlyTargetUser(t *testing.T) {
	s := New(logger.Discard())
	alice := &client{userID: uuid.New(), events: make(chan Event, 1)}
	bob := &client{userID: uuid.New(), events: make(chan Event, 1)}
	require.True(t, s.addClient(alice))
	require.True(t, s.addClient(bob))

	s.Publish(alice.userID, Event{Type: EventNotification, Message: "hi"})

	require.Len(t, alice.events, 1)
	assert.Empty(t, bob.events)
	assert.Equal(t, "hi", (<-alice.events).Message)
}

func TestFullBufferDropsEvent(t *testing.T) {
	s := New(logger.Discard())
	c := &client{userID: uuid.New(), events: make(chan Event, 1)}
	s.addClient(c)

	s.Publish(c.userID, Event{Type: EventNotification})
	s.Publish(c.userID, Event{Type: EventUnreadCount})

	assert.Len(t, c.events, 1)
}

func TestRemoveAndClose(t *testing.T) {
	s := New(logger.Discard())
	c := &client{userID: uuid.New(), events: make(chan Event, 1)}
	s.addClient(c)
	assert.Equal(t, 1, s.Connected(c.userID))

	s.removeClient(c)
	assert.Equal(t, 0, s.Connected(c.userID))
	_, open := <-c.events
	assert.False(t, open)

	s.Close()
	assert.False(t, s.addClient(&client{userID: uuid.New(), events: make(chan Event, 1)}))
}
