package comments

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestNormalizeRecordShapes(t *testing.T) {
	shapes := []string{
		`{"id": 5, "post_id": "p1", "author_display_name": "ana", "author_id": 9, "content": "hi", "created_at": "2024-03-01T12:00:00Z", "liked_by": [1, "2"], "disliked_by": []}`,
		`{"_id": "5", "postId": "p1", "author": {"name": "ana", "id": "9"}, "text": "hi", "createdAt": 1709294400, "likedBy": [{"id": 1}, {"user_id": "2"}]}`,
		`{"comment_id": 5.0, "user": {"display_name": "ana", "user_id": 9}, "body": "<b>hi</b>", "timestamp": 1709294400000, "likes": ["1", 2], "dislikes": null}`,
	}
	for _, shape := range shapes {
		comment, err := ParseCommentRecord("p1", []byte(shape))
		assert.Equal(t, nil, err)
		assert.Equal(t, CommentId("5"), comment.Id)
		assert.Equal(t, PostId("p1"), comment.PostId)
		assert.Equal(t, "ana", comment.AuthorDisplayName)
		assert.Equal(t, UserId("9"), *comment.AuthorId)
		assert.Equal(t, "hi", comment.Content)
		assert.Equal(t, true, comment.CreatedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
		assert.Equal(t, true, comment.LikedBy.Equal(NewUserIdSet("1", "2")))
		assert.Equal(t, 0, comment.DislikedBy.Len())
		assert.Equal(t, Confirmed, comment.PendingState)
	}
}

func TestNormalizeRecordAuthorName(t *testing.T) {
	comment, err := ParseCommentRecord("p1", []byte(`{"id": 1, "author": "bo", "content": "x"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "bo", comment.AuthorDisplayName)
	assert.Equal(t, (*UserId)(nil), comment.AuthorId)

	_, err = ParseCommentRecord("p1", []byte(`{"content": "no id"}`))
	assert.NotEqual(t, nil, err)
}

func TestNormalizeRecordLikeWins(t *testing.T) {
	comment, err := ParseCommentRecord("p1", []byte(`{"id": 1, "liked_by": [3], "disliked_by": [3, 4]}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, comment.LikedBy.Contains("3"))
	assert.Equal(t, false, comment.DislikedBy.Contains("3"))
	assert.Equal(t, true, comment.DislikedBy.Contains("4"))
}

func TestSanitizeContent(t *testing.T) {
	assert.Equal(t, "hello world", sanitizeContent(`<script>alert(1)</script>hello <i>world</i>`))
	assert.Equal(t, "a < b & c", sanitizeContent(`a &lt; b &amp; c`))
}

func TestParseCommentRecordsWrapped(t *testing.T) {
	for _, body := range []string{
		`[{"id": 1}, {"id": 2}]`,
		`{"comments": [{"id": 1}, {"id": 2}]}`,
		`{"data": [{"id": 1}, {"id": 2}]}`,
	} {
		comments, err := ParseCommentRecords("p1", []byte(body))
		assert.Equal(t, nil, err)
		assert.Equal(t, 2, len(comments))
		assert.Equal(t, CommentId("1"), comments[0].Id)
		assert.Equal(t, CommentId("2"), comments[1].Id)
	}

	_, err := ParseCommentRecords("p1", []byte(`{"nothing": true}`))
	assert.NotEqual(t, nil, err)
}
