// Package conversation сворачивает плоские списки сообщений в сводки по беседам.
// Функции чистые, срезы остаются за вызывающим.
package conversation

import (
	"slices"

	"github.com/messenger-client/internal/model"
)

// Dedup оставляет первое вхождение каждого id в порядке появления.
func Dedup(msgs []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// SortByTimestamp сортирует по возрастанию времени на месте; равные сохраняют порядок.
func SortByTimestamp(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// Merge склеивает результаты запросов в заданном порядке, убирает дубли и сортирует.
// Результат не зависит от того, какой запрос завершился первым.
func Merge(parts ...[]model.Message) []model.Message {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	all := make([]model.Message, 0, n)
	for _, p := range parts {
		all = append(all, p...)
	}
	out := Dedup(all)
	SortByTimestamp(out)
	return out
}

// Aggregate группирует сообщения userID по беседам. Вход в любом порядке, возможны дубли.
// Выход отсортирован по последнему сообщению, новые сверху; при равенстве по первому появлению.
func Aggregate(userID string, msgs []model.Message) []model.Conversation {
	msgs = Dedup(msgs)
	index := make(map[string]int)
	var convs []model.Conversation

	for _, m := range msgs {
		id := m.ConversationID(userID)
		if id == "" {
			continue
		}
		i, ok := index[id]
		if !ok {
			i = len(convs)
			index[id] = i
			convs = append(convs, model.Conversation{
				ID:          id,
				IsGroup:     m.IsGroup(),
				LastMessage: m,
			})
		}
		c := &convs[i]
		c.Messages = append(c.Messages, m)
		if m.IsUnreadFor(userID) {
			c.UnreadCount++
		}
		if m.Timestamp.After(c.LastMessage.Timestamp) {
			c.LastMessage = m
		}
	}

	for i := range convs {
		SortByTimestamp(convs[i].Messages)
	}
	SortByLastMessage(convs)
	return convs
}

// SortByLastMessage: новые беседы сверху, при равенстве порядок сохраняется.
func SortByLastMessage(convs []model.Conversation) {
	slices.SortStableFunc(convs, func(a, b model.Conversation) int {
		return b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp)
	})
}

// TotalUnread суммирует непрочитанные по всем беседам.
func TotalUnread(convs []model.Conversation) int {
	n := 0
	for _, c := range convs {
		n += c.UnreadCount
	}
	return n
}
