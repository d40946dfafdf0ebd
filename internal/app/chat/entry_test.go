package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domainchat "marketchat/internal/domain/chat"
)

func provisional(localID, content string) Entry {
	return Entry{State: Provisional, LocalID: localID, Message: domainchat.Message{Content: content}, IsSelf: true}
}

func confirmed(id, sender, content string) Entry {
	return Entry{State: Confirmed, Message: domainchat.Message{ID: id, SenderID: sender, Content: content}}
}

func TestReconcile_InPlace(t *testing.T) {
	entries := []Entry{confirmed("m1", "u2", "hi"), provisional("local-1", "hello"), confirmed("m2", "u2", "there")}

	got := Reconcile(entries, "local-1", domainchat.Message{ID: "m3", SenderID: "u1", Content: "hello"})

	assert.Len(t, got, 3)
	assert.Equal(t, Confirmed, got[1].State)
	assert.Equal(t, "m3", got[1].Key())
	assert.Equal(t, "local-1", got[1].LocalID)
	assert.True(t, got[1].IsSelf)
	assert.True(t, entries[1].IsProvisional(), "input slice is not modified")
}

func TestReconcile_DropsProvisionalWhenAlreadyConfirmed(t *testing.T) {
	entries := []Entry{confirmed("m3", "u1", "hello"), provisional("local-1", "hello")}

	got := Reconcile(entries, "local-1", domainchat.Message{ID: "m3"})

	assert.Equal(t, []Entry{confirmed("m3", "u1", "hello")}, got)
}

func TestReconcile_UnknownLocalID(t *testing.T) {
	entries := []Entry{confirmed("m1", "u2", "hi")}
	assert.Equal(t, entries, Reconcile(entries, "local-x", domainchat.Message{ID: "m2"}))
}

func TestEntryStateString(t *testing.T) {
	assert.Equal(t, "provisional", Provisional.String())
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "unknown", EntryState(0).String())
}
