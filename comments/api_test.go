package comments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/mux"
)

type apiRequest struct {
	method        string
	path          string
	authorization string
	body          map[string]any
}

// a loopback comment backend that records requests
func testApiServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []apiRequest) {
	var mutex sync.Mutex
	requests := []apiRequest{}

	router := mux.NewRouter()
	router.PathPrefix("/posts/{postId}/comments").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		request := apiRequest{
			method:        r.Method,
			path:          r.URL.Path,
			authorization: r.Header.Get("Authorization"),
		}
		if bodyBytes, err := io.ReadAll(r.Body); err == nil && 0 < len(bodyBytes) {
			json.Unmarshal(bodyBytes, &request.body)
		}
		mutex.Lock()
		requests = append(requests, request)
		mutex.Unlock()

		handle(w, r)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, func() []apiRequest {
		mutex.Lock()
		defer mutex.Unlock()
		return append([]apiRequest{}, requests...)
	}
}

func TestApiComments(t *testing.T) {
	server, requests := testApiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"comments": [
			{"id": 2, "author": {"name": "bo", "id": 8}, "text": "second", "likes": [42]},
			{"_id": "1", "author_display_name": "ana", "author_id": "42", "content": "first", "liked_by": [], "disliked_by": ["8"]}
		]}`))
	})

	api := NewCommentApi(server.URL+"/", "token")
	comments, err := api.Comments(context.Background(), "p1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(comments))
	assert.Equal(t, CommentId("2"), comments[0].Id)
	assert.Equal(t, "bo", comments[0].AuthorDisplayName)
	assert.Equal(t, true, comments[0].LikedBy.Contains("42"))
	assert.Equal(t, CommentId("1"), comments[1].Id)
	assert.Equal(t, true, comments[1].DislikedBy.Contains("8"))

	r := requests()
	assert.Equal(t, 1, len(r))
	assert.Equal(t, "GET", r[0].method)
	assert.Equal(t, "/posts/p1/comments", r[0].path)
	assert.Equal(t, "Bearer token", r[0].authorization)
}

func TestApiWrites(t *testing.T) {
	server, requests := testApiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" && r.URL.Path == "/posts/p1/comments" {
			w.Write([]byte(`{"comment": {"id": 77, "content": "hello", "user": {"display_name": "ana", "id": 42}}}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	api := NewCommentApi(server.URL, "token")
	ctx := context.Background()

	comment, err := api.Create(ctx, "p1", "hello", "go")
	assert.Equal(t, nil, err)
	assert.Equal(t, CommentId("77"), comment.Id)
	assert.Equal(t, "ana", comment.AuthorDisplayName)
	assert.Equal(t, UserId("42"), *comment.AuthorId)

	assert.Equal(t, nil, api.Like(ctx, "p1", "77"))
	assert.Equal(t, nil, api.Dislike(ctx, "p1", "77"))
	assert.Equal(t, nil, api.Report(ctx, "p1", "77", "spam"))
	assert.Equal(t, nil, api.Delete(ctx, "p1", "77"))

	r := requests()
	assert.Equal(t, 5, len(r))
	assert.Equal(t, "POST", r[0].method)
	assert.Equal(t, "hello", r[0].body["content"])
	assert.Equal(t, "go", r[0].body["platform"])
	assert.Equal(t, "/posts/p1/comments/77/like", r[1].path)
	assert.Equal(t, "/posts/p1/comments/77/dislike", r[2].path)
	assert.Equal(t, "/posts/p1/comments/77/report", r[3].path)
	assert.Equal(t, "spam", r[3].body["reason"])
	assert.Equal(t, "DELETE", r[4].method)
	assert.Equal(t, "/posts/p1/comments/77", r[4].path)
}

func TestApiErrors(t *testing.T) {
	var status int
	var body string
	server, _ := testApiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	api := NewCommentApi(server.URL, "token")
	ctx := context.Background()

	status, body = 400, `{"message": "Comments are closed on this post."}`
	err := api.Like(ctx, "p1", "1")
	assert.Equal(t, true, IsRemoteRejection(err))
	assert.Equal(t, "Comments are closed on this post.", err.Error())

	status, body = 422, `Plain text reason.`
	err = api.Like(ctx, "p1", "1")
	assert.Equal(t, "Plain text reason.", err.Error())

	status, body = 500, `{"error": {"message": "Nested reason."}}`
	err = api.Like(ctx, "p1", "1")
	assert.Equal(t, "Nested reason.", err.Error())
	var rejection *RemoteRejection
	assert.Equal(t, true, errors.As(err, &rejection))
	assert.Equal(t, 500, rejection.StatusCode)

	status, body = 404, ``
	err = api.Delete(ctx, "p1", "1")
	assert.Equal(t, true, IsNotFound(err))

	status, body = 403, `{"detail": "Not yours."}`
	err = api.Delete(ctx, "p1", "1")
	assert.Equal(t, true, errors.Is(err, ErrPermission))
	assert.Equal(t, "Not yours.", err.Error())
}
