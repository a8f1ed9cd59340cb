package messages

import "time"

// CaptureCommand asks the station to photograph a plant now.
// Published on command/capture/{subject}; Subject may be omitted and is then
// taken from the topic.
type CaptureCommand struct {
	Subject   int       `json:"subject,omitempty"`
	Requester string    `json:"requester,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
