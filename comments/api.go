package comments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// full comment list for a post
type CommentReader interface {
	Comments(ctx context.Context, postId PostId) ([]*Comment, error)
}

// remote writes. the server is the authority for every one of these.
type CommentWriter interface {
	Create(ctx context.Context, postId PostId, content string, platformTag string) (*Comment, error)
	Delete(ctx context.Context, postId PostId, commentId CommentId) error
	Like(ctx context.Context, postId PostId, commentId CommentId) error
	Dislike(ctx context.Context, postId PostId, commentId CommentId) error
	Report(ctx context.Context, postId PostId, commentId CommentId, reason string) error
}

type CommentApi struct {
	apiUrl string
	byJwt  string
	client *http.Client
}

func NewCommentApi(apiUrl string, byJwt string) *CommentApi {
	return &CommentApi{
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
		byJwt:  byJwt,
		client: defaultClient(),
	}
}

func (self *CommentApi) commentsUrl(postId PostId) string {
	return fmt.Sprintf("%s/posts/%s/comments", self.apiUrl, url.PathEscape(string(postId)))
}

func (self *CommentApi) commentUrl(postId PostId, commentId CommentId, action string) string {
	u := fmt.Sprintf("%s/%s", self.commentsUrl(postId), url.PathEscape(string(commentId)))
	if action != "" {
		u = fmt.Sprintf("%s/%s", u, action)
	}
	return u
}

func (self *CommentApi) Comments(ctx context.Context, postId PostId) ([]*Comment, error) {
	responseBodyBytes, err := self.do(ctx, "GET", self.commentsUrl(postId), nil)
	if err != nil {
		return nil, err
	}
	return ParseCommentRecords(postId, responseBodyBytes)
}

type CreateCommentArgs struct {
	Content  string `json:"content"`
	Platform string `json:"platform,omitempty"`
}

func (self *CommentApi) Create(ctx context.Context, postId PostId, content string, platformTag string) (*Comment, error) {
	responseBodyBytes, err := self.do(ctx, "POST", self.commentsUrl(postId), &CreateCommentArgs{
		Content:  content,
		Platform: platformTag,
	})
	if err != nil {
		return nil, err
	}

	var record rawRecord
	if err := json.Unmarshal(responseBodyBytes, &record); err != nil {
		return nil, err
	}
	if nested := record.nested([]string{"comment", "data"}); nested != nil {
		record = nested
	}
	return normalizeRecord(postId, record)
}

func (self *CommentApi) Delete(ctx context.Context, postId PostId, commentId CommentId) error {
	_, err := self.do(ctx, "DELETE", self.commentUrl(postId, commentId, ""), nil)
	return err
}

func (self *CommentApi) Like(ctx context.Context, postId PostId, commentId CommentId) error {
	_, err := self.do(ctx, "POST", self.commentUrl(postId, commentId, "like"), nil)
	return err
}

func (self *CommentApi) Dislike(ctx context.Context, postId PostId, commentId CommentId) error {
	_, err := self.do(ctx, "POST", self.commentUrl(postId, commentId, "dislike"), nil)
	return err
}

type ReportCommentArgs struct {
	Reason string `json:"reason"`
}

func (self *CommentApi) Report(ctx context.Context, postId PostId, commentId CommentId, reason string) error {
	_, err := self.do(ctx, "POST", self.commentUrl(postId, commentId, "report"), &ReportCommentArgs{
		Reason: reason,
	})
	return err
}

func (self *CommentApi) do(ctx context.Context, method string, url string, args any) ([]byte, error) {
	var body io.Reader
	if args != nil {
		requestBodyBytes, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")

	if self.byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", self.byJwt)
		req.Header.Add("Authorization", auth)
	}

	r, err := self.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		return nil, responseError(r.StatusCode, responseBodyBytes)
	}
	return responseBodyBytes, nil
}

// the response body is the error message, shown to the user verbatim
func responseError(statusCode int, responseBodyBytes []byte) error {
	message := strings.TrimSpace(string(responseBodyBytes))
	var record rawRecord
	if err := json.Unmarshal(responseBodyBytes, &record); err == nil {
		if m := record.string([]string{"message", "error", "detail"}); m != "" {
			message = m
		} else if nested := record.nested([]string{"error"}); nested != nil {
			if m := nested.string([]string{"message"}); m != "" {
				message = m
			}
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%s: %w", message, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermissionError{
			Message: message,
		}
	default:
		return &RemoteRejection{
			StatusCode: statusCode,
			Message:    message,
		}
	}
}

func IsRemoteRejection(err error) bool {
	var rejection *RemoteRejection
	return errors.As(err, &rejection)
}
