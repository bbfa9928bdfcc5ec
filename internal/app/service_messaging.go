package app

import (
	"context"
	"database/sql"
	"errors"

	"taskify/api/internal/rbac"
	"taskify/api/internal/store"
	"taskify/api/internal/util"
)

func (s *Service) ListConversations(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListConversations(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, conversationListPayload(item))
	}
	return payload, nil
}

// StartConversation returns the single conversation for the unordered
// pair (caller, participant), creating it if needed. Concurrent creates
// race on the pair uniqueness constraint; the loser re-runs the lookup
// once and returns the winner's row. If that re-lookup still finds
// nothing the original insert error is propagated.
func (s *Service) StartConversation(ctx context.Context, session Session, participantID string) (map[string]any, error) {
	if participantID == "" {
		return nil, errInvalidInput("participantId is required")
	}
	if participantID == session.UserID {
		return nil, errInvalidInput("Cannot start a conversation with yourself")
	}

	if _, err := s.store.GetUserByID(ctx, participantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}

	existing, err := s.store.FindConversationBetween(ctx, session.UserID, participantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return conversationPayload(existing), nil
	}

	conv := store.Conversation{
		ID:      util.NewID("cnv"),
		PairKey: store.PairKey(session.UserID, participantID),
	}
	created, createErr := s.store.CreateConversation(ctx, conv, session.UserID, participantID)
	if createErr == nil {
		return conversationPayload(created), nil
	}
	if !store.IsUniqueViolation(createErr) {
		return nil, createErr
	}

	// A concurrent request won the insert; return its conversation.
	winner, err := s.store.FindConversationBetween(ctx, session.UserID, participantID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, createErr
	}
	return conversationPayload(winner), nil
}

// conversationFacts loads the participant set; an unknown conversation
// id surfaces as sql.ErrNoRows.
func (s *Service) conversationFacts(ctx context.Context, conversationID string) (rbac.ConversationFacts, error) {
	participants, err := s.store.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		return rbac.ConversationFacts{}, err
	}
	if len(participants) == 0 {
		return rbac.ConversationFacts{}, sql.ErrNoRows
	}
	facts := rbac.ConversationFacts{ParticipantIDs: make([]string, 0, len(participants))}
	for _, participant := range participants {
		facts.ParticipantIDs = append(facts.ParticipantIDs, participant.UserID)
	}
	return facts, nil
}

// ListMessages returns the conversation's messages oldest first and
// advances the caller's read marker.
func (s *Service) ListMessages(ctx context.Context, session Session, conversationID string) ([]map[string]any, error) {
	facts, err := s.conversationFacts(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanAccessConversation(session.principal(), facts) {
		return nil, errForbidden()
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkConversationRead(ctx, conversationID, session.UserID); err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, messagePayload(message))
	}
	return payload, nil
}

func (s *Service) SendMessage(ctx context.Context, session Session, conversationID, content string) (map[string]any, error) {
	if err := validateMessage(content); err != nil {
		return nil, err
	}
	facts, err := s.conversationFacts(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanAccessConversation(session.principal(), facts) {
		return nil, errForbidden()
	}

	message, err := s.store.CreateMessage(ctx, store.Message{
		ID:             util.NewID("msg"),
		Content:        content,
		ConversationID: conversationID,
		SenderID:       session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return messagePayload(message), nil
}
