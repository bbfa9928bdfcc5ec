package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskify/api/internal/util"
)

// PairKey is the canonical key for an unordered user pair. The unique
// index on conversations.pair_key enforces the one-conversation-per-pair
// invariant.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// FindConversationBetween returns the conversation for the unordered
// pair, or nil when none exists.
func (s *PostgresStore) FindConversationBetween(ctx context.Context, userA, userB string) (*ConversationWithParticipants, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pair_key, created_at, updated_at FROM conversations WHERE pair_key=$1
	`, PairKey(userA, userB)).Scan(&conv.ID, &conv.PairKey, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	participants, err := s.conversationUsers(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &ConversationWithParticipants{Conversation: conv, Participants: participants}, nil
}

// CreateConversation inserts the conversation and both participant rows
// in one transaction. A unique violation on pair_key is returned
// unwrapped so the caller can match it with IsUniqueViolation.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation, userA, userB string) (*ConversationWithParticipants, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin conversation tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key) VALUES ($1, $2)
	`, conv.ID, conv.PairKey); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	for _, userID := range []string{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (id, conversation_id, user_id)
			VALUES ($1, $2, $3)
		`, util.NewID("cpt"), conv.ID, userID); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.FindConversationBetween(ctx, userA, userB)
}

func (s *PostgresStore) conversationUsers(ctx context.Context, conversationID string) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.avatar
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id=$1
		ORDER BY u.id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation users: %w", err)
	}
	defer rows.Close()

	users := make([]UserSummary, 0, 2)
	for rows.Next() {
		var user UserSummary
		if err := rows.Scan(&user.ID, &user.Name, &user.Avatar); err != nil {
			return nil, fmt.Errorf("scan conversation user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation users: %w", err)
	}
	return users, nil
}

// GetConversationParticipants returns the participant rows; the service
// turns their user ids into authorization facts.
func (s *PostgresStore) GetConversationParticipants(ctx context.Context, conversationID string) ([]ConversationParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, last_read_at
		FROM conversation_participants
		WHERE conversation_id=$1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationParticipant, 0, 2)
	for rows.Next() {
		var item ConversationParticipant
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.UserID, &item.LastReadAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

// ListConversations returns the caller's conversations, newest activity
// first, with the other participant, latest message and unread count.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]ConversationListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cv.id, cv.updated_at,
			u.id, u.name, u.avatar,
			lm.id, lm.content, lm.sender_id, lm.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = cv.id
					AND m.sender_id <> $1
					AND (me.last_read_at IS NULL OR m.created_at > me.last_read_at))
		FROM conversations cv
		JOIN conversation_participants me ON me.conversation_id = cv.id AND me.user_id = $1
		JOIN conversation_participants other ON other.conversation_id = cv.id AND other.user_id <> $1
		JOIN users u ON u.id = other.user_id
		LEFT JOIN LATERAL (
			SELECT id, content, sender_id, created_at
			FROM messages
			WHERE conversation_id = cv.id
			ORDER BY created_at DESC
			LIMIT 1
		) lm ON true
		ORDER BY cv.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationListItem, 0)
	for rows.Next() {
		var item ConversationListItem
		var msgID, msgContent, msgSender *string
		var msgCreated sql.NullTime
		if err := rows.Scan(&item.ID, &item.UpdatedAt,
			&item.Other.ID, &item.Other.Name, &item.Other.Avatar,
			&msgID, &msgContent, &msgSender, &msgCreated,
			&item.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if msgID != nil {
			item.LastMessage = &Message{
				ID:             *msgID,
				Content:        *msgContent,
				ConversationID: item.ID,
				SenderID:       *msgSender,
				CreatedAt:      msgCreated.Time,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]MessageWithSender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.conversation_id, m.sender_id, m.created_at,
			u.id, u.name, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id=$1
		ORDER BY m.created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]MessageWithSender, 0)
	for rows.Next() {
		var item MessageWithSender
		if err := rows.Scan(&item.ID, &item.Content, &item.ConversationID, &item.SenderID, &item.CreatedAt,
			&item.Sender.ID, &item.Sender.Name, &item.Sender.Avatar); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// CreateMessage inserts the message and bumps the conversation's
// updated_at so the list view sorts by latest activity.
func (s *PostgresStore) CreateMessage(ctx context.Context, message Message) (MessageWithSender, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageWithSender{}, fmt.Errorf("begin message tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, content, conversation_id, sender_id)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.Content, message.ConversationID, message.SenderID); err != nil {
		_ = tx.Rollback()
		return MessageWithSender{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at=NOW() WHERE id=$1
	`, message.ConversationID); err != nil {
		_ = tx.Rollback()
		return MessageWithSender{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MessageWithSender{}, err
	}

	var item MessageWithSender
	err = s.db.QueryRowContext(ctx, `
		SELECT m.id, m.content, m.conversation_id, m.sender_id, m.created_at,
			u.id, u.name, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id=$1
	`, message.ID).Scan(&item.ID, &item.Content, &item.ConversationID, &item.SenderID, &item.CreatedAt,
		&item.Sender.ID, &item.Sender.Name, &item.Sender.Avatar)
	if err != nil {
		return MessageWithSender{}, fmt.Errorf("read new message: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_participants SET last_read_at=NOW()
		WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var following bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id=$1 AND following_id=$2)
	`, followerID, followingID).Scan(&following)
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return following, nil
}

func (s *PostgresStore) CreateFollow(ctx context.Context, followerID, followingID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)
		ON CONFLICT (follower_id, following_id) DO NOTHING
	`, followerID, followingID)
	if err != nil {
		return fmt.Errorf("create follow: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFollow(ctx context.Context, followerID, followingID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM follows WHERE follower_id=$1 AND following_id=$2
	`, followerID, followingID)
	if err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}
