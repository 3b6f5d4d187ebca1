package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// request is an outbound control frame in the venue's {op, args} dialect.
type request struct {
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
	ReqID string   `json:"req_id,omitempty"`
}

// envelope is the common shape of every inbound frame. A non-empty Topic
// marks a data frame; everything else is a control frame.
type envelope struct {
	Topic   string          `json:"topic,omitempty"`
	Op      string          `json:"op,omitempty"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	ReqID   string          `json:"req_id,omitempty"`
	ConnID  string          `json:"conn_id,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is one data frame delivered to a topic handler. Data is the raw
// payload; ServerTime is the venue's timestamp for the frame.
type Message struct {
	Topic      string
	Data       json.RawMessage
	ServerTime time.Time
}

// Handler consumes data frames for one topic. Handlers must be fast and
// non-blocking; they run on the session's receive goroutine. A returned
// error is logged and contained, it never affects the connection.
type Handler func(msg Message) error

var reqSeq atomic.Uint64

// reqID builds a request identifier that embeds the topic, so a venue nack
// (which only echoes req_id) can be tied back to the offending topic.
func reqID(kind, topic string) string {
	return fmt.Sprintf("%s-%d-%s", kind, reqSeq.Add(1), topic)
}

// topicFromReqID recovers the topic embedded by reqID.
func topicFromReqID(id string) (string, bool) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 || (parts[0] != "sub" && parts[0] != "unsub") {
		return "", false
	}
	return parts[2], true
}

func subscribeRequest(topic string) request {
	return request{Op: "subscribe", Args: []string{topic}, ReqID: reqID("sub", topic)}
}

func unsubscribeRequest(topic string) request {
	return request{Op: "unsubscribe", Args: []string{topic}, ReqID: reqID("unsub", topic)}
}

func pingRequest() request {
	return request{Op: "ping", ReqID: "ping-" + uuid.NewString()}
}
