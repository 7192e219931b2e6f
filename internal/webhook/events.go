package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/markb/mentionbot/internal/log"
)

// Event is the summary of one delivery: the subscribed user and the event
// arrays it carried, with their lengths.
type Event struct {
	ForUserID string
	Kinds     map[string]int
	Raw       json.RawMessage
}

// HasMentions reports whether the delivery carried tweet_create_events.
func (e *Event) HasMentions() bool {
	return e.Kinds["tweet_create_events"] > 0
}

// EventSink decodes deliveries and passes a summary to Handle. A nil Handle
// only logs the event kinds.
type EventSink struct {
	Handle func(r *http.Request, ev *Event) error
}

func (s *EventSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	ev, err := ParseEvent(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	kinds := make([]string, 0, len(ev.Kinds))
	for k := range ev.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	log.Info("webhook event received", "for_user_id", ev.ForUserID, "kinds", strings.Join(kinds, ","))

	if s.Handle != nil {
		if err := s.Handle(r, ev); err != nil {
			log.Error("webhook event handling failed", "error", err)
			http.Error(w, "event handling failed", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ParseEvent summarizes a delivery body.
func ParseEvent(body []byte) (*Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}

	ev := &Event{Kinds: map[string]int{}, Raw: body}
	if raw, ok := fields["for_user_id"]; ok {
		_ = json.Unmarshal(raw, &ev.ForUserID)
	}
	for k, raw := range fields {
		if !strings.HasSuffix(k, "_events") {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			ev.Kinds[k] = len(items)
		}
	}
	return ev, nil
}
