package models

// RealtimeState is the lifecycle state of a user's long-poll channel client
type RealtimeState string

const (
	RealtimeIdle        RealtimeState = "idle"
	RealtimeNegotiating RealtimeState = "negotiating"
	RealtimePolling     RealtimeState = "polling"
	RealtimeStopped     RealtimeState = "stopped"
)

// RealtimeSession describes a user's active long-poll channel.
// LastAckID strictly increases with each consumed frame and is used to
// resume the long-poll continuation.
type RealtimeSession struct {
	UserID           string        `json:"user_id"`
	ServerSessionID  string        `json:"server_session_id"`
	ChannelSessionID string        `json:"channel_session_id"`
	LastAckID        int64         `json:"last_ack_id"`
	State            RealtimeState `json:"state"`
}

// RealtimeFrame is a decoded inbound event frame from the channel.
type RealtimeFrame struct {
	AckID int64       `json:"ack_id"`
	Data  interface{} `json:"data"`
}
