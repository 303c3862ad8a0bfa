// Package signaling carries call signals between peers: a server-push event
// channel for inbound traffic and an authenticated HTTP post for outbound.
package signaling

// Type identifies the kind of signal message.
type Type string

const (
	TypeOffer     Type = "OFFER"
	TypeAnswer    Type = "ANSWER"
	TypeCandidate Type = "CANDIDATE"
	TypeChat      Type = "CHAT"
	TypeHangup    Type = "HANGUP"
	TypeBusy      Type = "BUSY"
	TypeReject    Type = "REJECT"
)

// EmptyData is the placeholder payload for HANGUP, BUSY and REJECT.
const EmptyData = "{}"

// Valid reports whether t is one of the known signal types.
func (t Type) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeChat, TypeHangup, TypeBusy, TypeReject:
		return true
	}
	return false
}

// Terminates reports whether a signal of this type ends the current call.
func (t Type) Terminates() bool {
	return t == TypeHangup || t == TypeBusy || t == TypeReject
}

// Message is the JSON structure posted to and pushed by the relay.
// Data is always a string: a serialized session description for OFFER and
// ANSWER, a serialized ICE candidate for CANDIDATE, raw text for CHAT and
// EmptyData otherwise.
type Message struct {
	Sender string `json:"sender"`
	Target string `json:"target,omitempty"`
	Type   Type   `json:"type"`
	Data   string `json:"data"`
}

// User is one entry of a user_list snapshot.
type User struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Identity is the bearer credential issued by the auth collaborator.
type Identity struct {
	Email string
	Token string
}

// Event names pushed by the relay.
const (
	EventConnect  = "connect"
	EventUserList = "user_list"
	EventSignal   = "signal"
	EventPing     = "ping"
)
