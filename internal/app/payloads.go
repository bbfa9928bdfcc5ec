package app

import (
	"taskify/api/internal/store"
)

// Payload shapers turn store rows into the JSON shapes the API exposes.

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"avatar":    user.Avatar,
		"createdAt": user.CreatedAt,
	}
}

func userListPayload(item store.UserWithStats) map[string]any {
	payload := userPayload(item.User)
	payload["taskCount"] = item.TaskCount
	payload["projectCount"] = item.ProjectCount
	return payload
}

func projectPayload(item store.ProjectWithCounts) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"description": item.Description,
		"color":       item.Color,
		"taskCount":   item.TaskCount,
		"memberCount": item.MemberCount,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
}

func memberPayload(item store.ProjectMemberWithUser) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"projectId": item.ProjectID,
		"role":      item.Role,
		"joinedAt":  item.JoinedAt,
		"user": map[string]any{
			"id":     item.User.ID,
			"name":   item.User.Name,
			"email":  item.Email,
			"avatar": item.User.Avatar,
		},
	}
}

func taskPayload(item store.TaskWithRefs) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"title":        item.Title,
		"description":  item.Description,
		"status":       item.Status,
		"priority":     item.Priority,
		"dueDate":      item.DueDate,
		"projectId":    item.ProjectID,
		"creatorId":    item.CreatorID,
		"assigneeId":   item.AssigneeID,
		"project":      item.Project,
		"creator":      item.Creator,
		"commentCount": item.CommentCount,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
	if item.Assignee != nil {
		payload["assignee"] = item.Assignee
	} else {
		payload["assignee"] = nil
	}
	return payload
}

func taskListPayload(items []store.TaskWithRefs) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, taskPayload(item))
	}
	return payload
}

func commentPayload(item store.CommentWithAuthor) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"content":   item.Content,
		"taskId":    item.TaskID,
		"author":    item.Author,
		"createdAt": item.CreatedAt,
	}
}

func conversationPayload(item *store.ConversationWithParticipants) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"participants": item.Participants,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
}

func conversationListPayload(item store.ConversationListItem) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"participant": item.Other,
		"unreadCount": item.UnreadCount,
		"updatedAt":   item.UpdatedAt,
	}
	if item.LastMessage != nil {
		payload["lastMessage"] = map[string]any{
			"id":        item.LastMessage.ID,
			"content":   item.LastMessage.Content,
			"senderId":  item.LastMessage.SenderID,
			"createdAt": item.LastMessage.CreatedAt,
		}
	} else {
		payload["lastMessage"] = nil
	}
	return payload
}

func messagePayload(item store.MessageWithSender) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"content":        item.Content,
		"conversationId": item.ConversationID,
		"sender":         item.Sender,
		"createdAt":      item.CreatedAt,
	}
}
