package comments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventKind int

const (
	EventCreated EventKind = iota
	EventDeleted
	EventLiked
	EventDisliked
)

func (self EventKind) String() string {
	switch self {
	case EventCreated:
		return "comment_created"
	case EventDeleted:
		return "comment_deleted"
	case EventLiked:
		return "comment_liked"
	case EventDisliked:
		return "comment_disliked"
	default:
		return fmt.Sprintf("event(%d)", int(self))
	}
}

// an inbound push event for one post
type Event struct {
	Kind   EventKind
	PostId PostId
	// set for `EventCreated`
	Comment *Comment
	// set for all other kinds
	CommentId CommentId
	// set for `EventLiked` and `EventDisliked`
	UserId UserId
}

// a full comment list from the read endpoint
type Snapshot struct {
	PostId   PostId
	Comments []*Comment
	// when the read was issued. comments received locally after this are newer than the snapshot.
	RequestedAt time.Time
}

var (
	eventTagKeys     = []string{"type", "event", "kind"}
	eventPayloadKeys = []string{"comment", "data", "payload"}
	eventUserIdKeys  = []string{"user_id", "userId", "user", "liker_id", "by"}
)

// accepts a bare list of comment records (each becomes a create event, order preserved)
// or a single tagged event object. any other shape is an error.
func ParseMessage(postId PostId, message []byte) ([]*Event, error) {
	trimmed := strings.TrimSpace(string(message))
	switch {
	case strings.HasPrefix(trimmed, "["):
		comments, err := ParseCommentRecords(postId, message)
		if err != nil {
			return nil, err
		}
		events := make([]*Event, 0, len(comments))
		for _, comment := range comments {
			if comment.PostId != postId {
				continue
			}
			events = append(events, &Event{
				Kind:      EventCreated,
				PostId:    postId,
				Comment:   comment,
				CommentId: comment.Id,
			})
		}
		return events, nil
	case strings.HasPrefix(trimmed, "{"):
		event, err := parseTaggedEvent(postId, message)
		if err != nil {
			return nil, err
		}
		if event.PostId != postId {
			// scoped to another post
			return []*Event{}, nil
		}
		return []*Event{event}, nil
	default:
		return nil, fmt.Errorf("Unknown message shape.")
	}
}

func parseTaggedEvent(postId PostId, message []byte) (*Event, error) {
	var record rawRecord
	if err := json.Unmarshal(message, &record); err != nil {
		return nil, err
	}

	tag := record.string(eventTagKeys)
	var kind EventKind
	switch tag {
	case "comment_created":
		kind = EventCreated
	case "comment_deleted":
		kind = EventDeleted
	case "comment_liked":
		kind = EventLiked
	case "comment_disliked":
		kind = EventDisliked
	default:
		return nil, fmt.Errorf("Unknown event type \"%s\".", tag)
	}

	// fields may sit at the top level or inside a payload object
	payload := record.nested(eventPayloadKeys)
	if payload == nil {
		payload = record
	}
	lookup := func(keys []string) string {
		if v := payload.id(keys); v != "" {
			return v
		}
		return record.id(keys)
	}

	event := &Event{
		Kind:   kind,
		PostId: postId,
	}
	if eventPostId := PostId(lookup(postIdKeys)); eventPostId != "" {
		event.PostId = eventPostId
	}

	switch kind {
	case EventCreated:
		comment, err := normalizeRecord(event.PostId, payload)
		if err != nil {
			return nil, err
		}
		event.Comment = comment
		event.CommentId = comment.Id
	default:
		event.CommentId = CommentId(lookup(idKeys))
		if event.CommentId == "" {
			return nil, fmt.Errorf("%s event has no comment id.", kind)
		}
		if kind == EventLiked || kind == EventDisliked {
			event.UserId = UserId(lookup(eventUserIdKeys))
			if event.UserId == "" {
				return nil, fmt.Errorf("%s event has no user id.", kind)
			}
		}
	}
	return event, nil
}
