package sync

import (
	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
)

func messageFromRaw(m remote.RawMessage) conversation.Message {
	delivery, ok := conversation.ParseDeliveryState(m.Status)
	if !ok {
		delivery = conversation.DeliveryDelivered
		if m.FromMe {
			delivery = conversation.DeliverySent
		}
	}
	msg := conversation.Message{
		ID:          m.ID,
		ClientMsgID: m.ClientMsgID,
		Author:      m.Author,
		Body:        m.Body,
		Timestamp:   m.Timestamp,
		FromMe:      m.FromMe,
		IsVoice:     m.IsVoice,
		Duration:    m.Duration,
		Delivery:    delivery,
	}
	if m.Media != nil {
		msg.Media = &conversation.Media{URL: m.Media.URL, Type: m.Media.Type, Name: m.Media.Name, Size: m.Media.Size}
	}
	return msg
}

func conversationFromRaw(id string, rc remote.RawConversation) conversation.Conversation {
	c := conversation.Conversation{
		ID:          id,
		DisplayName: rc.Name,
		AvatarRef:   rc.AvatarURL,
		IsGroup:     rc.IsGroup,
		Messages:    make([]conversation.Message, 0, len(rc.Messages)),
	}
	for _, m := range rc.Messages {
		c.Messages = append(c.Messages, messageFromRaw(m))
	}
	return c
}

func conversationsFromRaw(raw map[string]remote.RawConversation) map[string]conversation.Conversation {
	out := make(map[string]conversation.Conversation, len(raw))
	for id, rc := range raw {
		if id == "" {
			id = rc.ID
		}
		if id == "" {
			continue
		}
		out[id] = conversationFromRaw(id, rc)
	}
	return out
}
