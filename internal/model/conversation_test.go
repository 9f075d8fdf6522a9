package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func loadConversation() Conversation {
	return Conversation{ID: 1, InitiatorID: "shipper", ReceiverID: "driver", IsArchivedByReceiver: true}
}

func TestConversationParties(t *testing.T) {
	assert.Equal(t, "driver", loadConversation().OtherParty("shipper"))
	assert.Equal(t, "shipper", loadConversation().OtherParty("driver"))
	assert.True(t, loadConversation().HasParticipant("driver"))
	assert.False(t, loadConversation().HasParticipant("broker"))
}

func TestConversationArchivedPerSide(t *testing.T) {
	assert.True(t, loadConversation().IsArchivedFor("driver"))
	assert.False(t, loadConversation().IsArchivedFor("shipper"))
	assert.False(t, loadConversation().IsArchivedFor("broker"))
}
