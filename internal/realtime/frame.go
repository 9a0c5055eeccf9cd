package realtime

import "encoding/json"

// Frame is the JSON envelope exchanged on the websocket.  The server routes
// on Type and Destination; Body is the payload for SEND and MESSAGE frames.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Frame types.  SUBSCRIBE/UNSUBSCRIBE manage topic delivery, SEND carries a
// command to an application destination, MESSAGE is a server push on a
// subscribed topic.
const (
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FrameSend        = "SEND"
	FrameMessage     = "MESSAGE"
)

// Command destinations on the server side.
const (
	DestHold    = "/app/seats/hold"
	DestRelease = "/app/seats/release"
)

// topicPrefix scopes one flight's seat updates.  The topic is derived
// deterministically from the flight id so resubscription after a reconnect
// reproduces it exactly.
const topicPrefix = "/topic/seats."

// TopicFor returns the push topic for a flight.
func TopicFor(flightID string) string { return topicPrefix + flightID }
