package comments

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseMessageList(t *testing.T) {
	events, err := ParseMessage("p1", []byte(`[{"id": 3, "content": "c"}, {"id": 2, "content": "b"}, {"id": 9, "post_id": "p2"}]`))
	assert.Equal(t, nil, err)
	// order preserved, other posts dropped
	assert.Equal(t, 2, len(events))
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, CommentId("3"), events[0].CommentId)
	assert.Equal(t, CommentId("2"), events[1].CommentId)
	assert.Equal(t, "b", events[1].Comment.Content)
}

func TestParseMessageTagged(t *testing.T) {
	events, err := ParseMessage("p1", []byte(`{"type": "comment_created", "comment": {"id": 4, "content": "new"}}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(events))
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, "new", events[0].Comment.Content)

	events, err = ParseMessage("p1", []byte(`{"type": "comment_deleted", "id": 4}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, EventDeleted, events[0].Kind)
	assert.Equal(t, CommentId("4"), events[0].CommentId)

	events, err = ParseMessage("p1", []byte(`{"event": "comment_liked", "data": {"comment_id": 4, "user_id": 42}}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, EventLiked, events[0].Kind)
	assert.Equal(t, CommentId("4"), events[0].CommentId)
	assert.Equal(t, UserId("42"), events[0].UserId)

	events, err = ParseMessage("p1", []byte(`{"type": "comment_disliked", "comment_id": "4", "userId": "42"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, EventDisliked, events[0].Kind)

	// scoped to another post
	events, err = ParseMessage("p1", []byte(`{"type": "comment_deleted", "id": 4, "post_id": "p2"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(events))
}

func TestParseMessageMalformed(t *testing.T) {
	for _, message := range []string{
		``,
		`hello`,
		`42`,
		`{"type": "comment_edited", "id": 1}`,
		`{"type": "comment_liked", "id": 1}`,
		`{"type": "comment_deleted"}`,
		`[{"content": "no id"}]`,
		`{"type": "comment_created"`,
	} {
		_, err := ParseMessage("p1", []byte(message))
		assert.NotEqual(t, nil, err)
	}
}
