// Package conversation defines the role-tagged chat message shared by every
// stage of the gateway pipeline.
package conversation

// Role identifies the author of a message.
type Role string

// Roles accepted on the wire.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn of a conversation. Values are treated as immutable:
// pipeline stages return new slices instead of editing in place.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LatestUser returns the most recent message authored by the user.
func LatestUser(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// Clone returns a copy of msgs that shares no backing array with the input.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
