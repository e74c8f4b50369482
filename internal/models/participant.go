package models

// VoiceParticipant records that an identity is currently in a room's voice
// channel. At most one record exists per address, globally: joining a second
// room moves the record rather than duplicating it.
type VoiceParticipant struct {
	RoomID   string `json:"roomId"`
	Address  string `json:"address"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"` // unix ms
}
