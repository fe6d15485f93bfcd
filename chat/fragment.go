package chat

import (
	"encoding/json"
	"time"
)

// Fragment is the controller's serialized message shape. The store
// treats fragments as opaque strings; only the controller (which created
// them) decodes them back, e.g. to rebuild model context or to splice a
// navigated version into the transcript.
type Fragment struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// encodeFragment serializes a fragment for the store
func encodeFragment(f Fragment) string {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	data, _ := json.Marshal(f)
	return string(data)
}

// decodeFragment parses an opaque fragment back into its parts
func decodeFragment(raw string) (Fragment, bool) {
	var f Fragment
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Fragment{}, false
	}
	return f, f.Role != ""
}

// fragmentPair locates the transcript indexes of a message's user
// fragment and the assistant fragment that answers it. Either index is
// -1 when missing.
func fragmentPair(messages []string, messageID string) (userIdx, assistantIdx int) {
	userIdx, assistantIdx = -1, -1
	for i, raw := range messages {
		f, ok := decodeFragment(raw)
		if !ok || f.MessageID != messageID {
			continue
		}
		switch f.Role {
		case "user":
			userIdx = i
		case "assistant":
			assistantIdx = i
		}
	}
	return userIdx, assistantIdx
}
