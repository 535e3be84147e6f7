package gyanmitra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a scriptable ConversationGateway for reconciler tests.
type fakeGateway struct {
	mu sync.Mutex

	submitFn   func(ctx context.Context, req QueryRequest) (*QueryResult, error)
	getFn      func(ctx context.Context, id string) (*Conversation, error)
	deleteFn   func(ctx context.Context, id string) error
	listFn     func(ctx context.Context, page, limit int) (*ConversationPage, error)
	feedbackFn func(ctx context.Context, conversationID string, messageIndex int, rating FeedbackRating) error

	queries  []QueryRequest
	deleted  []string
	feedback []FeedbackRating
}

func (f *fakeGateway) SubmitQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req)
	fn := f.submitFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &QueryResult{
		ConversationID: "c1",
		Answer: Message{
			Role:      AssistantRole,
			Text:      "answer",
			Timestamp: time.Now(),
		},
	}, nil
}

func (f *fakeGateway) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	f.mu.Lock()
	fn := f.getFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, id)
	}
	return &Conversation{ID: id, Messages: []Message{
		{Role: UserRole, Text: "old question"},
		{Role: AssistantRole, Text: "old answer"},
	}}, nil
}

func (f *fakeGateway) DeleteConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	fn := f.deleteFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, id)
	}
	return nil
}

func (f *fakeGateway) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	f.mu.Lock()
	fn := f.listFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, page, limit)
	}
	return &ConversationPage{}, nil
}

func (f *fakeGateway) SubmitFeedback(ctx context.Context, conversationID string, messageIndex int, rating FeedbackRating) error {
	f.mu.Lock()
	f.feedback = append(f.feedback, rating)
	fn := f.feedbackFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, conversationID, messageIndex, rating)
	}
	return nil
}

func (f *fakeGateway) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func newTestReconciler(gw ConversationGateway, opts ...ReconcilerOption) *Reconciler {
	profile := QueryProfile{Grade: 6, Subject: "science", Language: "english"}
	return NewReconciler(gw, profile, opts...)
}

func TestReconciler_SendMessage_CreatesConversation(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	err := rec.SendMessage(ctx, "What is photosynthesis?")
	require.NoError(t, err)

	session := rec.Session()
	require.Len(t, session.Messages, 2)
	assert.Equal(t, UserRole, session.Messages[0].Role)
	assert.Equal(t, "What is photosynthesis?", session.Messages[0].Text)
	assert.Equal(t, AssistantRole, session.Messages[1].Role)
	assert.Equal(t, "c1", session.ConversationID)
	assert.Equal(t, StatusIdle, session.Status)

	// Exactly one cache entry for the new id, positioned first.
	summaries := rec.History().Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "c1", summaries[0].ID)
	assert.Equal(t, "What is photosynthesis?", summaries[0].Title)
	assert.Equal(t, "c1", rec.History().ActiveID())
}

func TestReconciler_SendMessage_AdoptsIDForFollowUps(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "first"))
	require.NoError(t, rec.SendMessage(ctx, "second"))

	// The second send must carry the id returned by the first, otherwise
	// every question would open a fresh conversation.
	require.Len(t, gw.queries, 2)
	assert.Empty(t, gw.queries[0].ConversationID)
	assert.Equal(t, "c1", gw.queries[1].ConversationID)

	assert.Equal(t, 1, rec.History().Len())
}

func TestReconciler_SendMessage_FailureAppendsInlineError(t *testing.T) {
	gw := &fakeGateway{
		submitFn: func(ctx context.Context, req QueryRequest) (*QueryResult, error) {
			return nil, &APIError{Kind: ErrServer, StatusCode: 500}
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	err := rec.SendMessage(ctx, "hello")
	assert.ErrorIs(t, err, ErrServer)

	session := rec.Session()
	require.Len(t, session.Messages, 2)
	assert.Equal(t, UserRole, session.Messages[0].Role)
	assert.True(t, session.Messages[1].Failed)
	assert.Equal(t, StatusIdle, session.Status)
	assert.Zero(t, rec.History().Len())

	// The session stays sendable after a failure.
	gw.mu.Lock()
	gw.submitFn = nil
	gw.mu.Unlock()
	require.NoError(t, rec.SendMessage(ctx, "retry"))
	assert.Equal(t, "c1", rec.Session().ConversationID)
}

func TestReconciler_SendMessage_RejectedWhileSending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		submitFn: func(ctx context.Context, req QueryRequest) (*QueryResult, error) {
			close(started)
			<-release
			return &QueryResult{ConversationID: "c1", Answer: Message{Role: AssistantRole, Text: "answer"}}, nil
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- rec.SendMessage(ctx, "first") }()
	<-started

	before := len(rec.Session().Messages)
	err := rec.SendMessage(ctx, "second")
	assert.ErrorIs(t, err, ErrSendInFlight)
	assert.Equal(t, before, len(rec.Session().Messages))

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, rec.Session().Messages, 2)
}

func TestReconciler_OpenHistoryEntry(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "unrelated"))
	require.NoError(t, rec.OpenHistoryEntry(ctx, "c9"))

	session := rec.Session()
	assert.Equal(t, "c9", session.ConversationID)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "old question", session.Messages[0].Text)
	assert.Equal(t, StatusIdle, session.Status)
	assert.Equal(t, "c9", rec.History().ActiveID())
}

func TestReconciler_OpenHistoryEntry_StaleIDFallsBackToEmpty(t *testing.T) {
	gw := &fakeGateway{
		getFn: func(ctx context.Context, id string) (*Conversation, error) {
			return nil, &APIError{Kind: ErrNotFound, StatusCode: 404}
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	rec.History().AppendPage([]ConversationSummary{summary("stale-id", time.Now())}, false)

	err := rec.OpenHistoryEntry(ctx, "stale-id")
	require.NoError(t, err)

	session := rec.Session()
	assert.Empty(t, session.ConversationID)
	assert.Empty(t, session.Messages)
	assert.Equal(t, StatusIdle, session.Status)
	assert.False(t, rec.History().Contains("stale-id"))
}

func TestReconciler_OpenHistoryEntry_ServerErrorKeepsSession(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "keep me"))

	gw.mu.Lock()
	gw.getFn = func(ctx context.Context, id string) (*Conversation, error) {
		return nil, &APIError{Kind: ErrServer, StatusCode: 500}
	}
	gw.mu.Unlock()

	err := rec.OpenHistoryEntry(ctx, "c2")
	assert.ErrorIs(t, err, ErrServer)

	// The load failed but the session was not torn down.
	session := rec.Session()
	assert.Equal(t, "c1", session.ConversationID)
	assert.Len(t, session.Messages, 2)
	assert.Equal(t, StatusIdle, session.Status)
}

func TestReconciler_NewChat(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "something"))
	rec.NewChat()

	session := rec.Session()
	assert.Empty(t, session.ConversationID)
	assert.Empty(t, session.Messages)
	assert.Equal(t, StatusIdle, session.Status)
	assert.Empty(t, rec.History().ActiveID())

	// History keeps the persisted conversation.
	assert.Equal(t, 1, rec.History().Len())
}

func TestReconciler_DeleteFromHistory_ActiveConversation(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))
	require.NoError(t, rec.DeleteFromHistory(ctx, "c1"))

	session := rec.Session()
	assert.Empty(t, session.ConversationID)
	assert.Empty(t, session.Messages)
	assert.Zero(t, rec.History().Len())
	assert.Equal(t, []string{"c1"}, gw.deletedIDs())
}

func TestReconciler_DeleteFromHistory_OtherConversationLeavesSession(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))
	rec.History().AppendPage([]ConversationSummary{summary("c2", time.Now())}, false)

	require.NoError(t, rec.DeleteFromHistory(ctx, "c2"))

	session := rec.Session()
	assert.Equal(t, "c1", session.ConversationID)
	assert.Len(t, session.Messages, 2)
	assert.False(t, rec.History().Contains("c2"))
	assert.True(t, rec.History().Contains("c1"))
}

func TestReconciler_DeleteFromHistory_RollbackOnFailure(t *testing.T) {
	gw := &fakeGateway{
		deleteFn: func(ctx context.Context, id string) error {
			return &APIError{Kind: ErrServer, StatusCode: 500}
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	now := time.Now()
	rec.History().AppendPage([]ConversationSummary{
		summary("c1", now),
		summary("c2", now),
		summary("c3", now),
	}, false)

	err := rec.DeleteFromHistory(ctx, "c2")
	assert.ErrorIs(t, err, ErrServer)

	// The optimistically removed entry is back in its original slot.
	assert.Equal(t, []string{"c1", "c2", "c3"}, cacheIDs(rec.History()))
}

func TestReconciler_DeleteFromHistory_DeferredWhileSending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	// Establish the conversation, then block a follow-up send.
	require.NoError(t, rec.SendMessage(ctx, "first"))

	gw.mu.Lock()
	gw.submitFn = func(c context.Context, req QueryRequest) (*QueryResult, error) {
		close(started)
		<-release
		return &QueryResult{ConversationID: "c1", Answer: Message{Role: AssistantRole, Text: "late answer"}}, nil
	}
	gw.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- rec.SendMessage(ctx, "second") }()
	<-started

	// Deleting mid-send is accepted but deferred; nothing is deleted yet.
	require.NoError(t, rec.DeleteFromHistory(ctx, "c1"))
	assert.Empty(t, gw.deletedIDs())
	assert.True(t, rec.History().Contains("c1"))

	close(release)
	require.NoError(t, <-done)

	// The deferred delete fired after the send resolved.
	assert.Equal(t, []string{"c1"}, gw.deletedIDs())
	assert.False(t, rec.History().Contains("c1"))
	assert.Empty(t, rec.Session().ConversationID)
}

func TestReconciler_DeferredDelete_FiresAfterSupersededSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "first"))
	rec.History().AppendPage([]ConversationSummary{summary("c2", time.Now())}, false)

	gw.mu.Lock()
	gw.submitFn = func(c context.Context, req QueryRequest) (*QueryResult, error) {
		close(started)
		<-release
		return &QueryResult{ConversationID: "c1", Answer: Message{Role: AssistantRole, Text: "late answer"}}, nil
	}
	gw.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- rec.SendMessage(ctx, "second") }()
	<-started

	require.NoError(t, rec.DeleteFromHistory(ctx, "c1"))
	assert.Empty(t, gw.deletedIDs())

	// Opening another conversation discards the in-flight send's result,
	// but the accepted delete must still go through once the send resolves.
	require.NoError(t, rec.OpenHistoryEntry(ctx, "c2"))

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"c1"}, gw.deletedIDs())
	assert.False(t, rec.History().Contains("c1"))
	assert.Equal(t, "c2", rec.Session().ConversationID)
}

func TestReconciler_DeleteFromHistory_ActiveRollbackOnFailure(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))

	gw.mu.Lock()
	gw.deleteFn = func(c context.Context, id string) error {
		return &APIError{Kind: ErrServer, StatusCode: 500}
	}
	gw.mu.Unlock()

	err := rec.DeleteFromHistory(ctx, "c1")
	assert.ErrorIs(t, err, ErrServer)

	// The failed delete must leave the user exactly where they were: the
	// session intact and the cache entry still marked active.
	session := rec.Session()
	assert.Equal(t, "c1", session.ConversationID)
	assert.Len(t, session.Messages, 2)
	assert.True(t, rec.History().Contains("c1"))
	assert.Equal(t, "c1", rec.History().ActiveID())
}

func TestReconciler_Invalidate_DiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		submitFn: func(ctx context.Context, req QueryRequest) (*QueryResult, error) {
			close(started)
			<-release
			return &QueryResult{ConversationID: "c1", Answer: Message{Role: AssistantRole, Text: "answer"}}, nil
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- rec.SendMessage(ctx, "question") }()
	<-started

	// Navigating away discards the session; the late result must not be
	// applied.
	rec.Invalidate()
	close(release)
	require.NoError(t, <-done)

	session := rec.Session()
	assert.Empty(t, session.Messages)
	assert.Empty(t, session.ConversationID)
	assert.Zero(t, rec.History().Len())
}

func TestReconciler_LoadMore(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		listFn: func(ctx context.Context, page, limit int) (*ConversationPage, error) {
			assert.Equal(t, 10, limit)
			switch page {
			case 1:
				items := make([]ConversationSummary, 0, 10)
				for i := 0; i < 10; i++ {
					items = append(items, summary(string(rune('a'+i)), now))
				}
				return &ConversationPage{Items: items, HasMore: true}, nil
			case 2:
				items := make([]ConversationSummary, 0, 5)
				for i := 10; i < 15; i++ {
					items = append(items, summary(string(rune('a'+i)), now))
				}
				return &ConversationPage{Items: items, HasMore: false}, nil
			default:
				t.Fatalf("unexpected page %d", page)
				return nil, nil
			}
		},
	}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.LoadMore(ctx))
	assert.Equal(t, 10, rec.History().Len())
	assert.True(t, rec.History().HasMore())

	require.NoError(t, rec.LoadMore(ctx))
	assert.Equal(t, 15, rec.History().Len())
	assert.False(t, rec.History().HasMore())

	// Exhausted list: further calls are no-ops.
	require.NoError(t, rec.LoadMore(ctx))
	assert.Equal(t, 15, rec.History().Len())
}

func TestReconciler_RateMessage(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))

	require.NoError(t, rec.RateMessage(ctx, 1, FeedbackUp))
	assert.Equal(t, FeedbackUp, rec.Session().Messages[1].Feedback)

	// Ratings are terminal.
	err := rec.RateMessage(ctx, 1, FeedbackDown)
	assert.ErrorIs(t, err, ErrFeedbackFinal)
	assert.Equal(t, FeedbackUp, rec.Session().Messages[1].Feedback)
	assert.Len(t, gw.feedback, 1)
}

func TestReconciler_RateMessage_Validation(t *testing.T) {
	gw := &fakeGateway{}
	rec := newTestReconciler(gw)
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))

	assert.ErrorIs(t, rec.RateMessage(ctx, 0, FeedbackUp), ErrValidation)  // user message
	assert.ErrorIs(t, rec.RateMessage(ctx, 5, FeedbackUp), ErrValidation)  // out of range
	assert.ErrorIs(t, rec.RateMessage(ctx, 1, FeedbackNone), ErrValidation)
	assert.Empty(t, gw.feedback)
}

func TestReconciler_SummaryStoreMirroring(t *testing.T) {
	gw := &fakeGateway{}
	store := NewInMemorySummaryStore()
	rec := newTestReconciler(gw, WithSummaryStore(store))
	ctx := context.Background()

	require.NoError(t, rec.SendMessage(ctx, "question"))

	mirrored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	assert.Equal(t, "c1", mirrored[0].ID)

	require.NoError(t, rec.DeleteFromHistory(ctx, "c1"))
	mirrored, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, mirrored)
}

func TestReconciler_PrimeFromStore(t *testing.T) {
	gw := &fakeGateway{}
	store := NewInMemorySummaryStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Upsert(ctx, summary("c1", now)))
	require.NoError(t, store.Upsert(ctx, summary("c2", now.Add(-time.Hour))))

	rec := newTestReconciler(gw, WithSummaryStore(store))
	require.NoError(t, rec.PrimeFromStore(ctx))

	assert.Equal(t, []string{"c1", "c2"}, cacheIDs(rec.History()))
	assert.Equal(t, 1, rec.History().NextPage())
}
