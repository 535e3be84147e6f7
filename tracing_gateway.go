package gyanmitra

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Ash-D3v/GyanMitra/observability"
)

// TracingGateway decorates any ConversationGateway with OpenTelemetry spans.
type TracingGateway struct {
	gateway ConversationGateway
}

// NewTracingGateway wraps a gateway so every remote operation records a span
// in the trace carried by ctx.
func NewTracingGateway(gateway ConversationGateway) *TracingGateway {
	return &TracingGateway{gateway: gateway}
}

// ListConversations implements ConversationGateway with added tracing.
func (t *TracingGateway) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationGateway.ListConversations")
	defer span.End()

	result, err := t.gateway.ListConversations(ctx, page, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("limit", limit),
		attribute.Int("item_count", len(result.Items)),
		attribute.Bool("has_more", result.HasMore),
	)
	return result, nil
}

// GetConversation implements ConversationGateway with added tracing.
func (t *TracingGateway) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationGateway.GetConversation")
	defer span.End()

	conv, err := t.gateway.GetConversation(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("conversation_id", id),
		attribute.Int("message_count", len(conv.Messages)),
	)
	return conv, nil
}

// DeleteConversation implements ConversationGateway with added tracing.
func (t *TracingGateway) DeleteConversation(ctx context.Context, id string) error {
	ctx, span := observability.StartSpan(ctx, "ConversationGateway.DeleteConversation")
	defer span.End()

	span.SetAttributes(attribute.String("conversation_id", id))
	if err := t.gateway.DeleteConversation(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// SubmitQuery implements ConversationGateway with added tracing.
func (t *TracingGateway) SubmitQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationGateway.SubmitQuery")
	defer span.End()

	startTime := time.Now()
	result, err := t.gateway.SubmitQuery(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("conversation_id", result.ConversationID),
		attribute.Bool("created_conversation", req.ConversationID == ""),
		attribute.String("subject", req.Subject),
		attribute.String("language", req.Language),
		attribute.Int("grade", req.Grade),
		attribute.Int("citation_count", len(result.Answer.Citations)),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
	)
	return result, nil
}

// SubmitFeedback implements ConversationGateway with added tracing.
func (t *TracingGateway) SubmitFeedback(ctx context.Context, conversationID string, messageIndex int, rating FeedbackRating) error {
	ctx, span := observability.StartSpan(ctx, "ConversationGateway.SubmitFeedback")
	defer span.End()

	span.SetAttributes(
		attribute.String("conversation_id", conversationID),
		attribute.Int("message_index", messageIndex),
		attribute.String("rating", string(rating)),
	)
	if err := t.gateway.SubmitFeedback(ctx, conversationID, messageIndex, rating); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
