package state

// State identifies a conversation step.
type State string

const (
	// StateIdle indicates there is no active conversation in the chat.
	StateIdle State = "idle"
)

// Manager stores exactly one State per chat. Setting a new state replaces the previous one.
type Manager interface {
	GetState(chatID int64) State
	SetState(chatID int64, st State)
	ClearState(chatID int64)
	InProgress(chatID int64) bool
	// Snapshot returns a copy of all non-idle states.
	Snapshot() map[int64]State
}
