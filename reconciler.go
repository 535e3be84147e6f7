package gyanmitra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Ash-D3v/GyanMitra/observability"
)

// QueryProfile carries the student context attached to every question.
type QueryProfile struct {
	Grade    int
	Subject  string
	Language string
}

// Reconciler binds the active Session to the HistoryCache and the remote
// gateway. All transitions run through it: sending a message, opening a
// history entry, starting a new chat, deleting from history, paging the
// list. It is the single writer for session state, mirroring the UI event
// loop model the product is built on.
type Reconciler struct {
	mu      sync.Mutex
	gateway ConversationGateway
	history *HistoryCache
	session Session
	profile QueryProfile
	logger  observability.Logger
	store   SummaryStore
	clock   func() time.Time

	pageSize int
	pages    singleflight.Group

	// generation invalidates in-flight callbacks: results carrying a
	// stale generation are discarded on arrival, not applied.
	generation uint64

	// pendingDelete holds a delete requested for the active conversation
	// while a send for it was in flight; it fires once the send resolves.
	pendingDelete string
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger attaches a logger.
func WithReconcilerLogger(logger observability.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithPageSize sets how many summaries LoadMore requests per page.
func WithPageSize(n int) ReconcilerOption {
	return func(r *Reconciler) { r.pageSize = n }
}

// WithSummaryStore mirrors history-cache mutations into a durable local
// store so the sidebar can render before the first page fetch resolves.
func WithSummaryStore(store SummaryStore) ReconcilerOption {
	return func(r *Reconciler) { r.store = store }
}

// NewReconciler creates a Reconciler over the given gateway with an empty
// session and history cache.
//
// Example usage:
//
//	rec := gyanmitra.NewReconciler(client,
//	    gyanmitra.QueryProfile{Grade: 6, Subject: "science", Language: "english"},
//	    gyanmitra.WithPageSize(10),
//	)
//	if err := rec.SendMessage(ctx, "What is photosynthesis?"); err != nil {
//	    log.Println(err)
//	}
func NewReconciler(gateway ConversationGateway, profile QueryProfile, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		gateway:  gateway,
		history:  NewHistoryCache(),
		profile:  profile,
		logger:   observability.NewNullLogger(),
		clock:    time.Now,
		pageSize: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns a render-safe snapshot of the active session.
func (r *Reconciler) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Snapshot()
}

// History exposes the history cache for rendering (Summaries, Buckets,
// HasMore).
func (r *Reconciler) History() *HistoryCache { return r.history }

// SetProfile replaces the student context used for subsequent sends.
func (r *Reconciler) SetProfile(profile QueryProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = profile
}

// SendMessage appends the user message optimistically and submits it. A send
// attempted while another send is unresolved returns ErrSendInFlight without
// touching the session. On failure an inline error marker is appended in
// place of the answer and the session remains sendable.
func (r *Reconciler) SendMessage(ctx context.Context, text string) error {
	r.mu.Lock()
	switch r.session.Status {
	case StatusSending:
		r.mu.Unlock()
		return ErrSendInFlight
	case StatusLoadingHistory:
		r.mu.Unlock()
		return ErrSessionBusy
	}

	r.session.Messages = append(r.session.Messages, Message{
		Role:      UserRole,
		Text:      text,
		Timestamp: r.clock(),
	})
	r.session.Status = StatusSending

	gen := r.generation
	req := QueryRequest{
		Query:          text,
		Grade:          r.profile.Grade,
		Subject:        r.profile.Subject,
		Language:       r.profile.Language,
		ConversationID: r.session.ConversationID,
	}
	r.mu.Unlock()

	result, sendErr := r.gateway.SubmitQuery(ctx, req)

	r.mu.Lock()

	// A delete deferred behind this send fires once the send resolves,
	// even when the result itself is discarded below: the caller was
	// already promised the deletion.
	deferred := r.pendingDelete
	r.pendingDelete = ""

	if gen != r.generation {
		// The session was replaced or discarded while the send was in
		// flight. Drop the result.
		r.mu.Unlock()
		r.fireDeferredDelete(ctx, deferred)
		return nil
	}

	r.session.Status = StatusIdle

	if sendErr != nil {
		r.logger.WithErr(sendErr).Error("send failed")
		r.session.Messages = append(r.session.Messages, Message{
			Role:      AssistantRole,
			Text:      "Something went wrong. Please try again.",
			Timestamp: r.clock(),
			Failed:    true,
		})
	} else {
		r.session.Messages = append(r.session.Messages, result.Answer)
		r.session.ConversationID = result.ConversationID

		title := r.session.title()
		updatedAt := r.clock()
		r.history.UpsertFromSession(result.ConversationID, title, updatedAt)
		r.history.SetActive(result.ConversationID)
		r.mirrorUpsert(ctx, ConversationSummary{
			ID:        result.ConversationID,
			Title:     title,
			UpdatedAt: updatedAt,
		})
	}

	r.mu.Unlock()

	r.fireDeferredDelete(ctx, deferred)
	return sendErr
}

// fireDeferredDelete runs a delete that was queued behind an in-flight send.
func (r *Reconciler) fireDeferredDelete(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := r.DeleteFromHistory(ctx, id); err != nil {
		r.logger.WithErr(err).WithFields(map[string]interface{}{
			"conversation_id": id,
		}).Error("deferred delete failed")
	}
}

// OpenHistoryEntry replaces the session wholesale with the stored
// conversation. A conversation that no longer exists (deleted elsewhere) is
// non-fatal: the session falls back to empty and the stale entry leaves the
// cache.
func (r *Reconciler) OpenHistoryEntry(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.session.Status == StatusLoadingHistory {
		r.mu.Unlock()
		return ErrSessionBusy
	}

	// Opening an entry supersedes whatever the session was doing; any
	// in-flight send result is discarded on arrival.
	r.generation++
	gen := r.generation
	r.session.Status = StatusLoadingHistory
	r.mu.Unlock()

	conv, err := r.gateway.GetConversation(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return nil
	}

	if errors.Is(err, ErrNotFound) {
		r.session.reset()
		r.history.Remove(id)
		r.mirrorDelete(ctx, id)
		r.logger.WithFields(map[string]interface{}{
			"conversation_id": id,
		}).Warn("conversation vanished, dropped from history")
		return nil
	}
	if err != nil {
		r.session.Status = StatusIdle
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	r.session.replace(conv)
	r.history.SetActive(id)
	return nil
}

// NewChat discards the current session unconditionally and starts an empty
// one. There is no save prompt: the backend already persisted everything
// that succeeded.
func (r *Reconciler) NewChat() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.session.reset()
	r.history.SetActive("")
}

// Invalidate discards the session and marks all in-flight callbacks stale.
// Called when the host navigates away from the chat view; the underlying
// network requests are not cancelled, their results are simply not applied.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.session.reset()
}

// DeleteFromHistory removes a conversation, optimistically dropping it from
// the cache before the network call resolves. On failure the entry is
// restored at its original position and the error surfaced. Deleting the
// active conversation also empties the session. A delete aimed at a
// conversation whose send is still in flight is deferred until the send
// resolves, so a conversation is never deleted mid-creation.
func (r *Reconciler) DeleteFromHistory(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.session.Status == StatusSending && r.session.ConversationID == id && id != "" {
		r.pendingDelete = id
		r.mu.Unlock()
		return nil
	}

	removed, inCache := r.history.Remove(id)
	wasActive := r.session.ConversationID == id && id != ""
	var saved Session
	if wasActive {
		saved = r.session.Snapshot()
		r.session.reset()
		r.generation++
	}
	r.mu.Unlock()

	err := r.gateway.DeleteConversation(ctx, id)
	if err != nil {
		if inCache {
			r.history.Restore(removed)
		}
		if wasActive {
			r.mu.Lock()
			// Only roll back if nothing replaced the session in the
			// meantime.
			if r.session.IsNew() && len(r.session.Messages) == 0 {
				r.session = saved
				r.generation++
				r.history.SetActive(id)
			}
			r.mu.Unlock()
		}
		r.logger.WithErr(err).WithFields(map[string]interface{}{
			"conversation_id": id,
		}).Error("delete failed, entry restored")
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}

	r.mirrorDelete(ctx, id)
	return nil
}

// LoadMore fetches the next page of conversation summaries into the cache.
// Safe to call concurrently with sends; duplicate concurrent calls for the
// same page collapse into a single request.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	if !r.history.HasMore() {
		return nil
	}

	page := r.history.NextPage()
	_, err, _ := r.pages.Do(fmt.Sprintf("page-%d", page), func() (interface{}, error) {
		result, err := r.gateway.ListConversations(ctx, page, r.pageSize)
		if err != nil {
			return nil, err
		}
		r.history.AppendPage(result.Items, result.HasMore)
		for _, item := range result.Items {
			r.mirrorUpsert(ctx, item)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to load conversations page %d: %w", page, err)
	}
	return nil
}

// PrimeFromStore seeds an empty history cache from the durable summary
// mirror so the sidebar has content before the first LoadMore resolves.
// Primed entries de-duplicate against fetched pages by id. No-op without a
// store or once anything is cached.
func (r *Reconciler) PrimeFromStore(ctx context.Context) error {
	if r.store == nil || r.history.Len() > 0 {
		return nil
	}

	items, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read summary store: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	r.history.Seed(items)
	return nil
}

// RateMessage submits a terminal thumbs rating for the assistant message at
// index. Ratings cannot be taken back or overwritten.
func (r *Reconciler) RateMessage(ctx context.Context, index int, rating FeedbackRating) error {
	if rating != FeedbackUp && rating != FeedbackDown {
		return fmt.Errorf("%w: rating must be up or down", ErrValidation)
	}

	r.mu.Lock()
	if index < 0 || index >= len(r.session.Messages) {
		r.mu.Unlock()
		return fmt.Errorf("%w: message index %d out of range", ErrValidation, index)
	}
	msg := r.session.Messages[index]
	if msg.Role != AssistantRole || msg.Failed {
		r.mu.Unlock()
		return fmt.Errorf("%w: only answered assistant messages can be rated", ErrValidation)
	}
	if msg.Feedback != FeedbackNone {
		r.mu.Unlock()
		return ErrFeedbackFinal
	}
	conversationID := r.session.ConversationID
	gen := r.generation
	r.mu.Unlock()

	if conversationID == "" {
		return fmt.Errorf("%w: conversation not persisted yet", ErrValidation)
	}

	if err := r.gateway.SubmitFeedback(ctx, conversationID, index, rating); err != nil {
		return fmt.Errorf("failed to submit feedback: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.generation && index < len(r.session.Messages) {
		r.session.Messages[index].Feedback = rating
	}
	return nil
}

func (r *Reconciler) mirrorUpsert(ctx context.Context, summary ConversationSummary) {
	if r.store == nil {
		return
	}
	if err := r.store.Upsert(ctx, summary); err != nil {
		r.logger.WithErr(err).Warn("summary mirror upsert failed")
	}
}

func (r *Reconciler) mirrorDelete(ctx context.Context, id string) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.WithErr(err).Warn("summary mirror delete failed")
	}
}
