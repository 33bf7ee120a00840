package model

// Participant is a user currently present in the room.
// LastStatus is the unix time in milliseconds of the last join or heartbeat.
type Participant struct {
	Name       string `json:"name" bson:"_id"`
	LastStatus int64  `json:"lastStatus" bson:"lastStatus"`
}

// IsStale reports whether the participant was last seen before cutoff (unix ms).
func (p Participant) IsStale(cutoff int64) bool {
	return p.LastStatus < cutoff
}
