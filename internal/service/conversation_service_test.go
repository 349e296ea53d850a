package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kenny-gateway/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTranscripts struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memoryTranscripts) PutJSON(_ context.Context, objectName string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[objectName] = data
	return nil
}

func (m *memoryTranscripts) PresignedURL(_ context.Context, objectName string, expiry time.Duration) (string, error) {
	return "https://minio.local/kenny/" + objectName + "?expires=" + expiry.String(), nil
}

func newPersistedSession(t *testing.T, tr *tiers, store SessionStore, sessionID, userID string, turns int) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Resolve(ctx, sessionID, userID)
	require.NoError(t, err)
	var rec *model.ConversationRecord
	for i := 0; i < turns; i++ {
		rec, err = store.AppendTurn(ctx, sessionID, model.TurnRecord{UserMessage: "q", Response: "a"})
		require.NoError(t, err)
		require.NoError(t, store.Persist(ctx, rec))
	}
}

func TestConversationService_GetSession(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	svc := NewConversationService(store, tr.repo, nil, 0)
	newPersistedSession(t, tr, store, "s-1", "u-1", 2)

	view, err := svc.GetSession(context.Background(), "s-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.TurnCount)
	assert.Len(t, view.Turns, 2)

	_, err = svc.GetSession(context.Background(), "s-1", "u-2")
	assert.ErrorIs(t, err, ErrSessionForbidden)

	// 没有身份的调用方不能读取
	_, err = svc.GetSession(context.Background(), "s-1", "")
	assert.ErrorIs(t, err, ErrSessionForbidden)

	_, err = svc.GetSession(context.Background(), "missing", "u-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConversationService_ListSessions(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	svc := NewConversationService(store, tr.repo, nil, 0)
	newPersistedSession(t, tr, store, "s-1", "u-1", 1)
	newPersistedSession(t, tr, store, "s-2", "u-1", 3)
	newPersistedSession(t, tr, store, "s-3", "u-2", 1)

	list, err := svc.ListSessions(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].SessionID, list[1].SessionID}
	assert.ElementsMatch(t, []string{"s-1", "s-2"}, ids)
}

func TestConversationService_ExportTranscript(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	objects := &memoryTranscripts{}
	svc := NewConversationService(store, tr.repo, objects, time.Hour)
	newPersistedSession(t, tr, store, "s-1", "u-1", 12)

	export, err := svc.ExportTranscript(context.Background(), "s-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 12, export.TurnCount)
	assert.True(t, strings.HasPrefix(export.ObjectName, "transcripts/s-1/"))
	assert.Contains(t, export.URL, export.ObjectName)

	data, ok := objects.objects[export.ObjectName]
	require.True(t, ok)
	var doc struct {
		SessionID string             `json:"session_id"`
		Turns     []model.TurnRecord `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "s-1", doc.SessionID)
	require.Len(t, doc.Turns, 12)
	assert.Equal(t, 1, doc.Turns[0].TurnNumber)
	assert.Equal(t, 12, doc.Turns[11].TurnNumber)
}

func TestConversationService_ExportTranscriptErrors(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	newPersistedSession(t, tr, store, "s-1", "u-1", 1)

	_, err := NewConversationService(store, tr.repo, nil, 0).ExportTranscript(context.Background(), "s-1", "u-1")
	assert.ErrorIs(t, err, ErrTranscriptDisabled)

	svc := NewConversationService(store, tr.repo, &memoryTranscripts{}, 0)
	_, err = svc.ExportTranscript(context.Background(), "missing", "u-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.ExportTranscript(context.Background(), "s-1", "u-2")
	assert.ErrorIs(t, err, ErrSessionForbidden)
	_, err = svc.ExportTranscript(context.Background(), "s-1", "")
	assert.ErrorIs(t, err, ErrSessionForbidden)

	failing := NewConversationService(store, tr.repo, &memoryTranscripts{putErr: errors.New("bucket missing")}, 0)
	_, err = failing.ExportTranscript(context.Background(), "s-1", "u-1")
	assert.ErrorContains(t, err, "bucket missing")
}
