package comments

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// normalizes backend comment records into `Comment`.
// the backend has shipped several field names and shapes over time.

var (
	idKeys         = []string{"id", "_id", "comment_id", "commentId"}
	postIdKeys     = []string{"post_id", "postId", "post"}
	authorNameKeys = []string{"author_display_name", "authorDisplayName", "author_name", "authorName", "username", "user_name", "userName"}
	authorIdKeys   = []string{"author_id", "authorId", "user_id", "userId"}
	authorKeys     = []string{"author", "user"}
	nestedNameKeys = []string{"display_name", "displayName", "name", "username"}
	nestedIdKeys   = []string{"id", "_id", "user_id", "userId"}
	contentKeys    = []string{"content", "text", "body", "message"}
	createdAtKeys  = []string{"created_at", "createdAt", "timestamp", "date"}
	likedByKeys    = []string{"liked_by", "likedBy", "likes"}
	dislikedByKeys = []string{"disliked_by", "dislikedBy", "dislikes"}
)

var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var contentPolicy = bluemonday.StrictPolicy()

// strips markup. the result is plain text.
func sanitizeContent(content string) string {
	return strings.TrimSpace(html.UnescapeString(contentPolicy.Sanitize(content)))
}

type rawRecord map[string]json.RawMessage

func (self rawRecord) first(keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if v, ok := self[key]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (self rawRecord) string(keys []string) string {
	v, ok := self.first(keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func (self rawRecord) id(keys []string) string {
	v, ok := self.first(keys)
	if !ok {
		return ""
	}
	s, err := normalizeIdJson(v)
	if err != nil {
		return ""
	}
	return s
}

func (self rawRecord) nested(keys []string) rawRecord {
	v, ok := self.first(keys)
	if !ok {
		return nil
	}
	var nested rawRecord
	if err := json.Unmarshal(v, &nested); err != nil {
		return nil
	}
	return nested
}

func ParseCommentRecord(postId PostId, recordJson []byte) (*Comment, error) {
	var record rawRecord
	if err := json.Unmarshal(recordJson, &record); err != nil {
		return nil, err
	}
	return normalizeRecord(postId, record)
}

func ParseCommentRecords(postId PostId, recordsJson []byte) ([]*Comment, error) {
	var records []rawRecord
	if err := json.Unmarshal(recordsJson, &records); err != nil {
		// some responses wrap the list
		var wrapper rawRecord
		if err2 := json.Unmarshal(recordsJson, &wrapper); err2 != nil {
			return nil, err
		}
		v, ok := wrapper.first([]string{"comments", "data", "items", "results"})
		if !ok {
			return nil, err
		}
		if err := json.Unmarshal(v, &records); err != nil {
			return nil, err
		}
	}

	comments := make([]*Comment, 0, len(records))
	for _, record := range records {
		comment, err := normalizeRecord(postId, record)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

func normalizeRecord(postId PostId, record rawRecord) (*Comment, error) {
	commentId := CommentId(record.id(idKeys))
	if commentId == "" {
		return nil, errors.New("Comment record has no id.")
	}

	comment := &Comment{
		Id:           commentId,
		PostId:       postId,
		Content:      sanitizeContent(record.string(contentKeys)),
		LikedBy:      parseUserIds(record, likedByKeys),
		DislikedBy:   parseUserIds(record, dislikedByKeys),
		PendingState: Confirmed,
	}

	if recordPostId := PostId(record.id(postIdKeys)); recordPostId != "" {
		comment.PostId = recordPostId
	}

	comment.AuthorDisplayName = record.string(authorNameKeys)
	if authorId := record.id(authorIdKeys); authorId != "" {
		userId := UserId(authorId)
		comment.AuthorId = &userId
	}
	if author := record.nested(authorKeys); author != nil {
		if comment.AuthorDisplayName == "" {
			comment.AuthorDisplayName = author.string(nestedNameKeys)
		}
		if comment.AuthorId == nil {
			if authorId := author.id(nestedIdKeys); authorId != "" {
				userId := UserId(authorId)
				comment.AuthorId = &userId
			}
		}
	} else if comment.AuthorDisplayName == "" {
		// `author` as a plain name
		comment.AuthorDisplayName = record.string(authorKeys)
	}

	if v, ok := record.first(createdAtKeys); ok {
		if createdAt, err := parseCreatedAt(v); err == nil {
			comment.CreatedAt = createdAt
		}
	}

	// the server should never report both. like wins.
	for userId := range comment.LikedBy {
		comment.DislikedBy.Remove(userId)
	}

	return comment, nil
}

// accepts `[1, "2"]` or `[{"id": 1}, {"user_id": "2"}]`. a bare count is not a set and is ignored.
func parseUserIds(record rawRecord, keys []string) UserIdSet {
	set := UserIdSet{}
	v, ok := record.first(keys)
	if !ok {
		return set
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return set
	}
	for _, item := range items {
		trimmed := strings.TrimSpace(string(item))
		if strings.HasPrefix(trimmed, "{") {
			var nested rawRecord
			if err := json.Unmarshal(item, &nested); err == nil {
				if userId := nested.id(nestedIdKeys); userId != "" {
					set.Add(UserId(userId))
				}
			}
			continue
		}
		if userId, err := normalizeIdJson(item); err == nil && userId != "" {
			set.Add(UserId(userId))
		}
	}
	return set
}

// rfc3339 variants, or unix seconds / millis
func parseCreatedAt(v json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		for _, layout := range createdAtLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n), nil
		}
		return time.Time{}, fmt.Errorf("Unknown time format: %s", s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return time.Time{}, err
	}
	i, err := n.Int64()
	if err != nil {
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, err
		}
		i = int64(f)
	}
	return unixTime(i), nil
}

func unixTime(n int64) time.Time {
	// anything past year 33658 in seconds is millis
	if 1_000_000_000_000 <= n {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
