package model

type ConversationKind string

const (
	KindContact ConversationKind = "contact"
	KindGroup   ConversationKind = "group"
)

// Conversation — производная сущность, собирается из потока сообщений пользователя.
type Conversation struct {
	ID          string    `json:"id"`
	IsGroup     bool      `json:"isGroup"`
	LastMessage Message   `json:"lastMessage"`
	UnreadCount int       `json:"unreadCount"`
	Messages    []Message `json:"messages"`
}

func (c *Conversation) Kind() ConversationKind {
	if c.IsGroup {
		return KindGroup
	}
	return KindContact
}

// Discussion — беседа, дополненная данными контакта или группы для списка.
type Discussion struct {
	Conversation
	Name       string           `json:"name"`
	Kind       ConversationKind `json:"type"`
	Avatar     string           `json:"avatar"`
	Phone      string           `json:"phone,omitempty"`
	IsFavorite bool             `json:"isFavorite"`
}

// Selection — текущая открытая беседа.
type Selection struct {
	Kind ConversationKind `json:"type"`
	ID   string           `json:"id"`
	Name string           `json:"name"`
}
