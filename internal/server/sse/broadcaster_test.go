package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToOwnerOnly(t *testing.T) {
	b := NewBroadcaster()
	alice := uuid.New()
	bob := uuid.New()

	aliceRec := httptest.NewRecorder()
	bobRec := httptest.NewRecorder()

	aliceClient, err := b.AddClient(alice, aliceRec)
	require.NoError(t, err)
	_, err = b.AddClient(bob, bobRec)
	require.NoError(t, err)
	require.Equal(t, 2, b.ClientCount())

	b.Broadcast(alice, map[string]string{"type": "run_started"})

	assert.Contains(t, aliceRec.Body.String(), `"type":"run_started"`)
	assert.True(t, strings.HasPrefix(aliceRec.Body.String(), "data: "))
	assert.Empty(t, bobRec.Body.String())

	b.RemoveClient(aliceClient)
	assert.Equal(t, 1, b.ClientCount())
}

func TestBroadcaster_RemoveClientIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()
	client, err := b.AddClient(uuid.New(), rec)
	require.NoError(t, err)

	b.RemoveClient(client)
	assert.NotPanics(t, func() { b.RemoveClient(client) })
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcaster_SkipsRemovedClients(t *testing.T) {
	b := NewBroadcaster()
	owner := uuid.New()
	rec := httptest.NewRecorder()
	client, err := b.AddClient(owner, rec)
	require.NoError(t, err)

	b.RemoveClient(client)
	b.Broadcast(owner, map[string]string{"type": "run_finished"})

	assert.Empty(t, rec.Body.String())
}
