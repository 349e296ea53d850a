package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/sse"
	"kenny-gateway/pkg/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicRelay struct{}

func (panicRelay) Dispatch(context.Context, string, string, model.UserInfo, []model.TurnRecord) RelayOutcome {
	panic("boom")
}

type gatewayFixture struct {
	tiers     *tiers
	store     SessionStore
	wf        *fakeWorkflow
	scheduler *fakeScheduler
	gateway   GatewayService
}

func newGatewayFixture(t *testing.T, wf *fakeWorkflow, relayTimeout time.Duration) *gatewayFixture {
	t.Helper()
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	scheduler := &fakeScheduler{}
	gw := NewGatewayService(store, NewWorkflowRelay(wf, relayTimeout, false), NewResponder(ResponderConfig{}), scheduler)
	return &gatewayFixture{tiers: tr, store: store, wf: wf, scheduler: scheduler, gateway: gw}
}

func userMessages(texts ...string) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(texts))
	for _, s := range texts {
		out = append(out, model.ChatMessage{Role: "user", Content: s})
	}
	return out
}

func TestGateway_SuccessfulTurn(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{
		Response:   ptr("Meeting booked for 3pm."),
		Intent:     ptr("schedule"),
		Confidence: ptr(0.92),
	}}
	f := newGatewayFixture(t, wf, time.Second)

	sessionID, stream := f.gateway.Handle(context.Background(), GatewayRequest{
		Messages:  userMessages("earlier", "Book a meeting tomorrow at 3pm"),
		SessionID: "s-1",
		User:      model.UserInfo{ID: "u-1", Email: "u@example.com"},
	})
	assert.Equal(t, "s-1", sessionID)

	chunks := collect(stream)
	assert.Equal(t, "Meeting booked for 3pm.", contentOf(chunks))
	assert.Equal(t, sse.KindFinish, chunks[len(chunks)-2].Kind)
	assert.Equal(t, sse.KindDone, chunks[len(chunks)-1].Kind)

	// 只有最后一条消息被当作本轮输入
	assert.Equal(t, "Book a meeting tomorrow at 3pm", wf.lastRequest().Message)
	assert.Empty(t, wf.lastRequest().ConversationHistory)

	rec, err := f.store.Lookup(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, rec.Turns, 1)
	turn := rec.Turns[0]
	assert.Equal(t, 1, turn.TurnNumber)
	assert.Equal(t, "Meeting booked for 3pm.", turn.Response)
	assert.Equal(t, "schedule", turn.Intent)
	assert.InDelta(t, 0.92, turn.Confidence, 1e-9)

	tasks := f.scheduler.scheduled()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Turn.TurnNumber)
	assert.Equal(t, "s-1", tasks[0].Record.SessionID)
}

func TestGateway_HistoryWindowIsSent(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("ok")}}
	f := newGatewayFixture(t, wf, time.Second)

	for i := 0; i < 7; i++ {
		_, stream := f.gateway.Handle(context.Background(), GatewayRequest{
			Messages: userMessages("turn"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"},
		})
		collect(stream)
	}
	assert.Len(t, wf.lastRequest().ConversationHistory, model.HistoryWindow)
}

func TestGateway_FallbackOnTimeout(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("late")}, delay: time.Second}
	f := newGatewayFixture(t, wf, 20*time.Millisecond)

	_, stream := f.gateway.Handle(context.Background(), GatewayRequest{
		Messages: userMessages("hello"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"},
	})
	chunks := collect(stream)
	assert.Equal(t, FallbackNotice, chunks[0].Content)
	assert.Equal(t, FallbackNotice+FallbackMessage("hello"), contentOf(chunks))
	assert.Equal(t, sse.KindDone, chunks[len(chunks)-1].Kind)

	rec, err := f.store.Lookup(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, FallbackMessage("hello"), rec.Turns[0].Response)
	assert.Equal(t, model.UnknownIntent, rec.Turns[0].Intent)
	assert.Zero(t, rec.Turns[0].Confidence)
	assert.Len(t, f.scheduler.scheduled(), 1)
}

func TestGateway_NoMessages(t *testing.T) {
	f := newGatewayFixture(t, &fakeWorkflow{}, time.Second)

	sessionID, stream := f.gateway.Handle(context.Background(), GatewayRequest{User: model.UserInfo{ID: "u-1"}})
	assert.Empty(t, sessionID)
	assert.Equal(t, []sse.Chunk{sse.Error(NoMessagesError), sse.Done()}, collect(stream))
	assert.Empty(t, f.wf.requests)
}

func TestGateway_ReusesActiveSessionForUser(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("ok")}}
	f := newGatewayFixture(t, wf, time.Second)

	first, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("a"), User: model.UserInfo{ID: "u-1"}})
	collect(stream)
	require.NotEmpty(t, first)

	second, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("b"), User: model.UserInfo{ID: "u-1"}})
	collect(stream)
	assert.Equal(t, first, second)

	other, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("c")})
	collect(stream)
	assert.NotEqual(t, first, other)
	rec, err := f.store.Lookup(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, AnonymousUserID, rec.UserID)
}

func TestGateway_IsLazy(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("ok")}}
	f := newGatewayFixture(t, wf, time.Second)

	_, _ = f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("a"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"}})
	assert.Empty(t, wf.requests)
	assert.Equal(t, 0, f.store.Stats().Total)
}

func TestGateway_ResolveFailureBecomesErrorEvent(t *testing.T) {
	f := newGatewayFixture(t, &fakeWorkflow{resp: &workflow.RouteResponse{}}, time.Second)
	sqlDB, err := f.tiers.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("hi"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"}})
	chunks := collect(stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, sse.KindError, chunks[0].Kind)
	assert.True(t, strings.HasPrefix(chunks[0].Err, "Pipeline error: resolve:"), chunks[0].Err)
	assert.Equal(t, sse.KindDone, chunks[1].Kind)
	assert.Empty(t, f.wf.requests)
}

func TestGateway_RejectsSessionOfAnotherUser(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("ok")}}
	f := newGatewayFixture(t, wf, time.Second)

	_, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("private"), SessionID: "s-1", User: model.UserInfo{ID: "alice"}})
	collect(stream)
	require.Len(t, wf.requests, 1)

	_, stream = f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("hi"), SessionID: "s-1", User: model.UserInfo{ID: "mallory"}})
	chunks := collect(stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Pipeline error: resolve: "+ErrSessionForbidden.Error(), chunks[0].Err)
	assert.Equal(t, sse.KindDone, chunks[1].Kind)

	// 历史没有被转发，会话也没有被追加
	assert.Len(t, wf.requests, 1)
	rec, err := f.store.Lookup(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TurnCount)
}

func TestGateway_PanicBecomesErrorEvent(t *testing.T) {
	tr := newTiers(t, time.Hour)
	store := tr.newStore(time.Hour, nil)
	gw := NewGatewayService(store, panicRelay{}, NewResponder(ResponderConfig{}), &fakeScheduler{})

	_, stream := gw.Handle(context.Background(), GatewayRequest{Messages: userMessages("hi"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"}})
	chunks := collect(stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Pipeline error: dispatch: panic: boom", chunks[0].Err)
	assert.Equal(t, sse.KindDone, chunks[1].Kind)
}

func TestGateway_RejectedPersistenceStillStreams(t *testing.T) {
	wf := &fakeWorkflow{resp: &workflow.RouteResponse{Response: ptr("ok")}}
	f := newGatewayFixture(t, wf, time.Second)
	f.scheduler.reject = true

	_, stream := f.gateway.Handle(context.Background(), GatewayRequest{Messages: userMessages("hi"), SessionID: "s-1", User: model.UserInfo{ID: "u-1"}})
	chunks := collect(stream)
	assert.Equal(t, "ok", contentOf(chunks))
	assert.Equal(t, sse.KindDone, chunks[len(chunks)-1].Kind)
}
