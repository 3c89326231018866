package comments

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestUserIdNumberAndString(t *testing.T) {
	var a UserId
	var b UserId
	err := json.Unmarshal([]byte(`42`), &a)
	assert.Equal(t, nil, err)
	err = json.Unmarshal([]byte(`"42"`), &b)
	assert.Equal(t, nil, err)
	assert.Equal(t, a, b)
	assert.Equal(t, UserId("42"), a)

	var set UserIdSet
	err = json.Unmarshal([]byte(`[42, "42", "7"]`), &set)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, true, set.Contains("42"))
	assert.Equal(t, true, set.Contains("7"))
}

func TestUserIdSetEqual(t *testing.T) {
	a := NewUserIdSet("1", "2", "3")
	b := NewUserIdSet("3", "2", "1")
	assert.Equal(t, true, a.Equal(b))
	assert.Equal(t, []UserId{"1", "2", "3"}, b.Values())

	b.Remove("2")
	assert.Equal(t, false, a.Equal(b))

	var empty UserIdSet
	assert.Equal(t, true, empty.Equal(UserIdSet{}))
	assert.Equal(t, true, empty.Add("1"))
	assert.Equal(t, false, empty.Add("1"))
	assert.Equal(t, 1, empty.Len())

	c := a.Clone()
	c.Remove("1")
	assert.Equal(t, true, a.Contains("1"))
}

func TestToggleReactionMutualExclusion(t *testing.T) {
	comment := &Comment{
		Id:         "1",
		LikedBy:    UserIdSet{},
		DislikedBy: UserIdSet{},
	}

	assert.Equal(t, true, toggleReaction(comment, Like, "u"))
	assert.Equal(t, true, comment.LikedBy.Contains("u"))
	assert.Equal(t, false, comment.DislikedBy.Contains("u"))

	// dislike moves the user out of the like set
	assert.Equal(t, true, toggleReaction(comment, Dislike, "u"))
	assert.Equal(t, false, comment.LikedBy.Contains("u"))
	assert.Equal(t, true, comment.DislikedBy.Contains("u"))

	assert.Equal(t, false, toggleReaction(comment, Dislike, "u"))
	assert.Equal(t, 0, comment.LikedBy.Len())
	assert.Equal(t, 0, comment.DislikedBy.Len())
}

func TestTempCommentId(t *testing.T) {
	assert.Equal(t, CommentId("-1"), TempCommentId(1))
	assert.Equal(t, true, TempCommentId(3).IsTemp())
	assert.Equal(t, false, CommentId("3").IsTemp())

	var commentId CommentId
	err := json.Unmarshal([]byte(`17`), &commentId)
	assert.Equal(t, nil, err)
	assert.Equal(t, CommentId("17"), commentId)
}

func TestIsAuthor(t *testing.T) {
	authorId := UserId("9")
	comment := &Comment{
		Id:                "1",
		AuthorId:          &authorId,
		AuthorDisplayName: "ana",
	}
	assert.Equal(t, true, comment.IsAuthor(&Identity{UserId: "9", DisplayName: "other"}))
	assert.Equal(t, false, comment.IsAuthor(&Identity{UserId: "8", DisplayName: "ana"}))

	// no author id on the record
	comment.AuthorId = nil
	assert.Equal(t, true, comment.IsAuthor(&Identity{UserId: "8", DisplayName: "ana"}))
	assert.Equal(t, false, comment.IsAuthor(nil))
}
