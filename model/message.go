package model

// BroadcastTarget is the `to` value addressing every participant in the room.
const BroadcastTarget = "Todos"

// TimeLayout is the wall-clock format stamped on every message.
const TimeLayout = "15:04:05"

type MessageType string

const (
	TypeMessage        MessageType = "message"
	TypePrivateMessage MessageType = "private_message"
	// TypeStatus is reserved for join/leave notices generated by the service.
	TypeStatus MessageType = "status"
)

// Message is a struct that represents a message sent from one participant to another, or to everyone.
type Message struct {
	ID   string      `json:"id" bson:"_id"`
	From string      `json:"from" bson:"from"`
	To   string      `json:"to" bson:"to"`
	Text string      `json:"text" bson:"text"`
	Type MessageType `json:"type" bson:"type"`
	Time string      `json:"time" bson:"time"`
}

// VisibleTo reports whether user may read the message: broadcasts, messages addressed to the user
// and everything the user sent, private messages to others included.
func (m Message) VisibleTo(user string) bool {
	return m.To == BroadcastTarget || m.To == user || m.From == user
}
