package channels

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeEventWireShape(t *testing.T) {
	raw, err := json.Marshal(ChangeEvent{ChannelID: "general", Kind: Deleted, ID: "a1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"channelId":"general","kind":"deleted","payload":"a1"}`, string(raw))

	raw, err = json.Marshal(ChangeEvent{ChannelID: "general", Kind: Added, ID: "a1", Activity: &Activity{ID: "a1", Type: "note"}})
	require.NoError(t, err)
	var back ChangeEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Added, back.Kind)
	assert.Equal(t, "a1", back.ID)
	assert.Equal(t, "note", back.Activity.Type)

	assert.Error(t, json.Unmarshal([]byte(`{"channelId":"g","kind":"moved","payload":null}`), &back))
}

func TestChannelMembership(t *testing.T) {
	ch := Channel{OwnerID: "olive", Members: []string{"alice"}}
	assert.True(t, ch.IsMember("olive"))
	assert.True(t, ch.IsMember("alice"))
	assert.False(t, ch.IsMember(""))
	assert.False(t, Channel{}.IsOwner(""))
}
