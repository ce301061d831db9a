package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRank(t *testing.T) {
	assert.Less(t, MessageStatusSent.Rank(), MessageStatusDelivered.Rank())
	assert.Less(t, MessageStatusDelivered.Rank(), MessageStatusRead.Rank())
	assert.Equal(t, -1, MessageStatus("bogus").Rank())
	assert.True(t, MessageStatusRead.AtLeast(MessageStatusDelivered))
	assert.False(t, MessageStatusSent.AtLeast(MessageStatusDelivered))
}

func TestAdvanceNeverDowngrades(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := Message{ID: "m1", Status: MessageStatusSent}

	require.True(t, m.Advance(MessageStatusRead, now))
	require.NotNil(t, m.ReadAt)
	require.NotNil(t, m.DeliveredAt)

	assert.False(t, m.Advance(MessageStatusDelivered, now.Add(time.Second)))
	assert.False(t, m.Advance(MessageStatusRead, now.Add(time.Second)))
	assert.Equal(t, MessageStatusRead, m.Status)
	assert.Equal(t, now, *m.ReadAt)
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, (&Message{ReceiverID: "b"}).Validate())
	assert.NoError(t, (&Message{GroupID: "g"}).Validate())
	assert.ErrorIs(t, (&Message{}).Validate(), ErrInvalidTarget)
	assert.ErrorIs(t, (&Message{ReceiverID: "b", GroupID: "g"}).Validate(), ErrInvalidTarget)
}

func TestConversationID(t *testing.T) {
	out := Message{SenderID: "me", ReceiverID: "bob"}
	in := Message{SenderID: "bob", ReceiverID: "me"}
	grp := Message{SenderID: "bob", GroupID: "g1"}

	assert.Equal(t, "bob", out.ConversationID("me"))
	assert.Equal(t, "bob", in.ConversationID("me"))
	assert.Equal(t, "g1", grp.ConversationID("me"))

	assert.False(t, out.IsUnreadFor("me"))
	assert.True(t, in.IsUnreadFor("me"))
}

func TestMessageJSONFieldNames(t *testing.T) {
	raw := `{"id":"msg_1","senderId":"a","receiverId":"b","content":"hi","type":"text",
		"timestamp":"2024-05-01T10:00:00.000Z","status":"delivered","readAt":null,"deliveredAt":"2024-05-01T10:00:02.000Z"}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "b", m.ReceiverID)
	assert.Equal(t, MessageStatusDelivered, m.Status)
	assert.Nil(t, m.ReadAt)
	require.NotNil(t, m.DeliveredAt)
	assert.Equal(t, 2, m.DeliveredAt.Second())
}
