package comments

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

const MaxContentLength = 500

// ids arrive from the backend as either json numbers or strings.
// both normalize to the same canonical string so that `42` and `"42"` are equal.
func normalizeIdJson(src []byte) (string, error) {
	src = []byte(strings.TrimSpace(string(src)))
	if len(src) == 0 || string(src) == "null" {
		return "", nil
	}
	if src[0] == '"' {
		var s string
		if err := json.Unmarshal(src, &s); err != nil {
			return "", err
		}
		return normalizeIdString(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(src, &n); err != nil {
		return "", err
	}
	return normalizeIdString(n.String()), nil
}

func normalizeIdString(s string) string {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// comparable
type PostId string

func (self *PostId) UnmarshalJSON(src []byte) error {
	s, err := normalizeIdJson(src)
	if err != nil {
		return err
	}
	*self = PostId(s)
	return nil
}

// comparable
// server ids never start with '-'. local placeholders are `-1`, `-2`, ...
type CommentId string

func TempCommentId(n int64) CommentId {
	return CommentId(fmt.Sprintf("-%d", n))
}

func (self CommentId) IsTemp() bool {
	return strings.HasPrefix(string(self), "-")
}

func (self *CommentId) UnmarshalJSON(src []byte) error {
	s, err := normalizeIdJson(src)
	if err != nil {
		return err
	}
	*self = CommentId(s)
	return nil
}

// comparable
type UserId string

func (self *UserId) UnmarshalJSON(src []byte) error {
	s, err := normalizeIdJson(src)
	if err != nil {
		return err
	}
	*self = UserId(s)
	return nil
}

type UserIdSet map[UserId]struct{}

func NewUserIdSet(userIds ...UserId) UserIdSet {
	set := UserIdSet{}
	for _, userId := range userIds {
		set[userId] = struct{}{}
	}
	return set
}

func (self UserIdSet) Contains(userId UserId) bool {
	_, ok := self[userId]
	return ok
}

func (self *UserIdSet) Add(userId UserId) bool {
	if *self == nil {
		*self = UserIdSet{}
	}
	if _, ok := (*self)[userId]; ok {
		return false
	}
	(*self)[userId] = struct{}{}
	return true
}

func (self UserIdSet) Remove(userId UserId) bool {
	if _, ok := self[userId]; !ok {
		return false
	}
	delete(self, userId)
	return true
}

func (self UserIdSet) Len() int {
	return len(self)
}

func (self UserIdSet) Clone() UserIdSet {
	set := make(UserIdSet, len(self))
	for userId := range self {
		set[userId] = struct{}{}
	}
	return set
}

func (self UserIdSet) Equal(b UserIdSet) bool {
	if len(self) != len(b) {
		return false
	}
	for userId := range self {
		if !b.Contains(userId) {
			return false
		}
	}
	return true
}

// sorted
func (self UserIdSet) Values() []UserId {
	values := maps.Keys(self)
	slices.Sort(values)
	return values
}

func (self UserIdSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Values())
}

func (self *UserIdSet) UnmarshalJSON(src []byte) error {
	var userIds []UserId
	if err := json.Unmarshal(src, &userIds); err != nil {
		return err
	}
	set := UserIdSet{}
	for _, userId := range userIds {
		if userId != "" {
			set[userId] = struct{}{}
		}
	}
	*self = set
	return nil
}

func (self UserIdSet) String() string {
	parts := []string{}
	for _, userId := range self.Values() {
		parts = append(parts, string(userId))
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ","))
}

type PendingState int

const (
	Confirmed PendingState = iota
	PendingCreate
	PendingDelete
)

func (self PendingState) String() string {
	switch self {
	case Confirmed:
		return "confirmed"
	case PendingCreate:
		return "pending_create"
	case PendingDelete:
		return "pending_delete"
	default:
		return fmt.Sprintf("pending_state(%d)", int(self))
	}
}

type Comment struct {
	Id                CommentId    `json:"id"`
	PostId            PostId       `json:"post_id"`
	AuthorDisplayName string       `json:"author_display_name"`
	AuthorId          *UserId      `json:"author_id,omitempty"`
	Content           string       `json:"content"`
	CreatedAt         time.Time    `json:"created_at"`
	LikedBy           UserIdSet    `json:"liked_by"`
	DislikedBy        UserIdSet    `json:"disliked_by"`
	PendingState      PendingState `json:"-"`
}

func (self *Comment) Clone() *Comment {
	if self == nil {
		return nil
	}
	comment := *self
	if self.AuthorId != nil {
		authorId := *self.AuthorId
		comment.AuthorId = &authorId
	}
	comment.LikedBy = self.LikedBy.Clone()
	comment.DislikedBy = self.DislikedBy.Clone()
	return &comment
}

func (self *Comment) IsAuthor(identity *Identity) bool {
	if identity == nil {
		return false
	}
	if self.AuthorId != nil {
		return *self.AuthorId == identity.UserId
	}
	return self.AuthorDisplayName != "" && self.AuthorDisplayName == identity.DisplayName
}

type ReactionKind int

const (
	Like ReactionKind = iota
	Dislike
)

func (self ReactionKind) String() string {
	switch self {
	case Like:
		return "like"
	case Dislike:
		return "dislike"
	default:
		return fmt.Sprintf("reaction(%d)", int(self))
	}
}

// toggles `userId` in the `kind` set and always removes it from the opposing set.
// returns true if `userId` is now a member of the `kind` set.
func toggleReaction(comment *Comment, kind ReactionKind, userId UserId) bool {
	target, opposing := &comment.LikedBy, &comment.DislikedBy
	if kind == Dislike {
		target, opposing = &comment.DislikedBy, &comment.LikedBy
	}
	opposing.Remove(userId)
	if target.Contains(userId) {
		target.Remove(userId)
		return false
	}
	target.Add(userId)
	return true
}

func restoreReactions(comment *Comment, snapshot *Comment) {
	comment.LikedBy = snapshot.LikedBy.Clone()
	comment.DislikedBy = snapshot.DislikedBy.Clone()
}
