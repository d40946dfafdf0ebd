package chat

import domainchat "marketchat/internal/domain/chat"

type EntryState int

const (
	// Provisional entries were appended locally and are not confirmed by the store yet.
	Provisional EntryState = iota + 1
	// Confirmed entries carry the id assigned by the store.
	Confirmed
)

func (s EntryState) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Entry is one line of a session's visible message list.
type Entry struct {
	State   EntryState
	LocalID string
	Message domainchat.Message
	IsSelf  bool
}

// Key is the local id of a provisional entry and the message id of a confirmed one.
func (e Entry) Key() string {
	if e.State == Provisional {
		return e.LocalID
	}
	return e.Message.ID
}

func (e Entry) IsProvisional() bool { return e.State == Provisional }

func confirmedEntry(msg domainchat.Message, self string) Entry {
	return Entry{State: Confirmed, Message: msg, IsSelf: msg.SenderID == self}
}

// Reconcile turns the provisional entry localID into the confirmed message, keeping its
// position. If the confirmed id is already listed the provisional entry is dropped instead;
// if localID is unknown the list is returned unchanged.
func Reconcile(entries []Entry, localID string, confirmed domainchat.Message) []Entry {
	at := -1
	for i, e := range entries {
		if e.State == Provisional && e.LocalID == localID {
			at = i
			break
		}
	}
	if at < 0 {
		return entries
	}
	if indexOfMessage(entries, confirmed.ID) >= 0 {
		return removeAt(entries, at)
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	out[at] = Entry{
		State:   Confirmed,
		LocalID: localID,
		Message: confirmed,
		IsSelf:  entries[at].IsSelf,
	}
	return out
}

func indexOfMessage(entries []Entry, messageID string) int {
	if messageID == "" {
		return -1
	}
	for i, e := range entries {
		if e.State == Confirmed && e.Message.ID == messageID {
			return i
		}
	}
	return -1
}

func removeLocal(entries []Entry, localID string) ([]Entry, bool) {
	for i, e := range entries {
		if e.State == Provisional && e.LocalID == localID {
			return removeAt(entries, i), true
		}
	}
	return entries, false
}

func removeAt(entries []Entry, i int) []Entry {
	out := make([]Entry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	return append(out, entries[i+1:]...)
}
