package app

import (
	"context"
	"net/http"
	"testing"

	"taskify/api/internal/store"
)

func conversationParticipants(conversationID string, userIDs ...string) []store.ConversationParticipant {
	participants := make([]store.ConversationParticipant, 0, len(userIDs))
	for _, userID := range userIDs {
		participants = append(participants, store.ConversationParticipant{
			ID:             "cpt_" + userID,
			ConversationID: conversationID,
			UserID:         userID,
		})
	}
	return participants
}

func TestStartConversationWithSelfRejected(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodPost, "/api/conversations", issueTestToken(t, "usr_1"),
		`{"participantId":"usr_1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := envelopeErrorCode(t, rr); code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %s", code)
	}
}

func TestStartConversationReusesExisting(t *testing.T) {
	existing := &store.ConversationWithParticipants{
		Conversation: store.Conversation{ID: "cnv_1", PairKey: store.PairKey("usr_1", "usr_2")},
	}
	created := false
	fs := &fakeStore{
		findConversationBetweenFn: func(context.Context, string, string) (*store.ConversationWithParticipants, error) {
			return existing, nil
		},
		createConversationFn: func(context.Context, store.Conversation, string, string) (*store.ConversationWithParticipants, error) {
			created = true
			return nil, nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodPost, "/api/conversations", issueTestToken(t, "usr_1"),
		`{"participantId":"usr_2"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := envelopeData(t, rr)
	if data["id"] != "cnv_1" {
		t.Fatalf("expected existing conversation cnv_1, got %v", data["id"])
	}
	if created {
		t.Fatalf("must not create a second conversation for the pair")
	}
}

func TestListMessagesNonParticipantForbidden(t *testing.T) {
	fs := &fakeStore{
		getConversationParticipantsFn: func(_ context.Context, conversationID string) ([]store.ConversationParticipant, error) {
			return conversationParticipants(conversationID, "usr_1", "usr_2"), nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodGet, "/api/conversations/cnv_1/messages", issueTestToken(t, "usr_3"), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListMessagesUnknownConversationIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/conversations/cnv_missing/messages", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListMessagesAdvancesReadMarker(t *testing.T) {
	markedBy := ""
	fs := &fakeStore{
		getConversationParticipantsFn: func(_ context.Context, conversationID string) ([]store.ConversationParticipant, error) {
			return conversationParticipants(conversationID, "usr_1", "usr_2"), nil
		},
		markConversationReadFn: func(_ context.Context, _ string, userID string) error {
			markedBy = userID
			return nil
		},
	}
	server := newTestServer(fs)

	rr := doJSON(t, server, http.MethodGet, "/api/conversations/cnv_1/messages", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if markedBy != "usr_1" {
		t.Fatalf("expected read marker advanced for usr_1, got %q", markedBy)
	}
}

func TestSendMessageValidatesBeforeTouchingStore(t *testing.T) {
	lookups := 0
	fs := &fakeStore{
		getConversationParticipantsFn: func(_ context.Context, conversationID string) ([]store.ConversationParticipant, error) {
			lookups++
			return conversationParticipants(conversationID, "usr_1", "usr_2"), nil
		},
	}
	server := newTestServer(fs)
	token := issueTestToken(t, "usr_1")

	rr := doJSON(t, server, http.MethodPost, "/api/conversations/cnv_1/messages", token, `{"content":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if lookups != 0 {
		t.Fatalf("validation must run before any store access")
	}

	rr = doJSON(t, server, http.MethodPost, "/api/conversations/cnv_1/messages", token,
		`{"content":"See you at standup."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := envelopeData(t, rr)
	if data["content"] != "See you at standup." {
		t.Fatalf("unexpected message payload: %s", rr.Body.String())
	}
}
