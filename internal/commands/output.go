package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// formatMessage renders one live message as a single line with payload
// keys in sorted order.
func formatMessage(msg domain.Message) string {
	var b strings.Builder
	b.WriteString(msg.Timestamp.UTC().Format(time.TimeOnly))
	if msg.Seq > 0 {
		fmt.Fprintf(&b, " #%d", msg.Seq)
	}
	b.WriteString(" ")
	b.WriteString(string(msg.Type))
	for _, key := range slices.Sorted(maps.Keys(msg.Payload)) {
		fmt.Fprintf(&b, " %s=%s", key, formatValue(msg.Payload[key]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t\"=") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func formatTransition(t client.Transition) string {
	switch t.To {
	case client.StateBackoff:
		return fmt.Sprintf("-- reconnecting in %s (attempt %d)", t.Delay, t.Attempt+1)
	case client.StateDisconnected:
		if t.Err == nil {
			return "-- disconnected"
		}
		if code, text, ok := websocket.CloseStatus(t.Err); ok {
			return fmt.Sprintf("-- disconnected: closed by server (%d %s)", code, text)
		}
		return fmt.Sprintf("-- disconnected: %v", t.Err)
	default:
		return "-- " + t.To.String()
	}
}

func formatSnapshot(s client.Snapshot) string {
	return fmt.Sprintf("-- resynced: %d questions, %d polls as of %s",
		len(s.Questions), len(s.Polls), s.AsOf.UTC().Format(time.RFC3339))
}

// printBoard writes the current questions, most upvoted first.
func printBoard(w io.Writer, board *client.Board) {
	for _, q := range board.Questions() {
		mark := " "
		if q.Answered {
			mark = "x"
		}
		pending := ""
		if board.Pending(q.ID) {
			pending = " (pending)"
		}
		_, _ = fmt.Fprintf(w, "[%s] %4d  %s  %s%s\n", mark, q.Upvotes, q.ID, q.Text, pending)
	}
}

// finalClose reports whether the server closed the stream for a reason a
// reconnect cannot fix.
func finalClose(err error) (domain.CloseReason, bool) {
	_, text, ok := websocket.CloseStatus(err)
	if !ok {
		return "", false
	}
	switch reason := domain.CloseReason(text); reason {
	case domain.CloseEventEnded, domain.CloseHandshakeRejected:
		return reason, true
	default:
		return "", false
	}
}
