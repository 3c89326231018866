package comments

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestClient(t *testing.T, streamServer *testStreamServer, remote *fakeRemote, pollInterval time.Duration) *CommentClient {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	settings := DefaultCommentClientSettings()
	settings.PollSettings.Interval = pollInterval
	settings.ChannelSettings = testChannelSettings(streamServer.streamUrl())

	channelManager := NewChannelManager(ctx, "token", settings.ChannelSettings)
	client := NewCommentClientWithRemote(
		ctx,
		&Identity{
			UserId:      "42",
			DisplayName: "ana",
		},
		remote,
		channelManager,
		settings,
	)
	t.Cleanup(client.Close)
	return client
}

func waitComments(t *testing.T, session *Session, expected []CommentId) {
	ok := session.WaitFor(context.Background(), 5*time.Second, func(comments []*Comment) bool {
		return assert.IsEqual(expected, commentIds(comments))
	})
	if !ok {
		t.Fatalf("expected %v, got %v", expected, commentIds(session.Comments()))
	}
}

func TestSessionPollAndPush(t *testing.T) {
	streamServer := newTestStreamServer(t)
	remote := newFakeRemote()
	remote.setComments("p1", testComment("p1", "2", "b"), testComment("p1", "1", "a"))
	// only the first poll
	client := newTestClient(t, streamServer, remote, time.Hour)

	session := client.Open("p1")
	defer session.Close()

	// the first poll runs immediately
	waitComments(t, session, []CommentId{"2", "1"})

	conn := streamServer.nextConn(t)
	conn.send(t, `{"type": "comment_created", "comment": {"id": 3, "content": "c"}}`)
	waitComments(t, session, []CommentId{"3", "2", "1"})
	conn.send(t, `{"type": "comment_liked", "comment_id": 2, "user_id": 8}`)
	conn.send(t, `{"type": "comment_deleted", "id": 1}`)
	waitComments(t, session, []CommentId{"3", "2"})
	comment, _ := session.Store().Get("2")
	assert.Equal(t, true, comment.LikedBy.Contains("8"))

	statuses := make(chan ChannelStatus, 64)
	session.AddStatusCallback(func(status ChannelStatus) {
		statuses <- status
	})
	conn.ws.Close()
	select {
	case status := <-statuses:
		assert.Equal(t, Error, status.State)
	case <-time.After(5 * time.Second):
		t.Fatal("no status")
	}
}

func TestSessionMutations(t *testing.T) {
	streamServer := newTestStreamServer(t)
	remote := newFakeRemote()
	remote.setComments("p1", testComment("p1", "1", "a"))
	client := newTestClient(t, streamServer, remote, 50*time.Millisecond)

	session := client.Open("p1")
	defer session.Close()
	waitComments(t, session, []CommentId{"1"})

	submission, err := session.Like("1")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, waitSubmission(t, submission))

	// the server list catches up with the like
	liked := testComment("p1", "1", "a")
	liked.LikedBy = NewUserIdSet("42")
	remote.setComments("p1", liked)

	submission, err = session.Create("hello")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, waitSubmission(t, submission))
	created := submission.Comment()
	assert.Equal(t, "hello", created.Content)
	remote.setComments("p1", created, liked)

	// converges with the server list
	ok := session.WaitFor(context.Background(), 5*time.Second, func(comments []*Comment) bool {
		return assert.IsEqual([]CommentId{created.Id, "1"}, commentIds(comments)) &&
			comments[1].LikedBy.Equal(NewUserIdSet("42"))
	})
	assert.Equal(t, true, ok)
}

func TestSessionScopedTeardown(t *testing.T) {
	streamServer := newTestStreamServer(t)
	remote := newFakeRemote()
	remote.setComments("5", testComment("5", "50", "five"))
	remote.setComments("7", testComment("7", "70", "seven"))
	client := newTestClient(t, streamServer, remote, time.Hour)

	session5 := client.Open("5")
	waitComments(t, session5, []CommentId{"50"})
	conn5 := streamServer.nextConn(t)
	session5.Close()
	assert.Equal(t, true, session5.IsClosed())

	select {
	case <-conn5.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed")
	}

	session7 := client.Open("7")
	defer session7.Close()
	waitComments(t, session7, []CommentId{"70"})
	conn7 := streamServer.nextConn(t)
	assert.Equal(t, PostId("7"), conn7.postId)

	// late inputs for post 5
	late := testComment("5", "51", "late")
	session5.onEvent(createdEvent(late))
	session5.onSnapshot(&Snapshot{
		PostId:      "5",
		Comments:    []*Comment{late},
		RequestedAt: time.Now(),
	})
	conn7.send(t, `{"type": "comment_created", "post_id": "5", "comment": {"id": 51, "content": "late"}}`)
	// a marker to know the push above was processed
	conn7.send(t, `{"type": "comment_created", "comment": {"id": 71, "content": "marker"}}`)

	waitComments(t, session7, []CommentId{"71", "70"})
	assert.Equal(t, []CommentId{"50"}, commentIds(session5.Comments()))
	_, ok := session7.Store().Get("51")
	assert.Equal(t, false, ok)

	// closed sessions reject writes
	_, err := session5.Create("hello")
	assert.Equal(t, ErrClosed, err)
}

func TestOpenReplacesSession(t *testing.T) {
	streamServer := newTestStreamServer(t)
	remote := newFakeRemote()
	client := newTestClient(t, streamServer, remote, time.Hour)

	a := client.Open("p1")
	b := client.Open("p1")
	defer b.Close()

	assert.Equal(t, true, a.IsClosed())
	assert.Equal(t, false, b.IsClosed())
	session, ok := client.Session("p1")
	assert.Equal(t, true, ok)
	assert.Equal(t, b.SessionId(), session.SessionId())

	// closing the replaced session does not evict the current one
	a.Close()
	_, ok = client.Session("p1")
	assert.Equal(t, true, ok)

	b.Close()
	_, ok = client.Session("p1")
	assert.Equal(t, false, ok)
}

func TestClientClose(t *testing.T) {
	streamServer := newTestStreamServer(t)
	remote := newFakeRemote()
	client := newTestClient(t, streamServer, remote, time.Hour)

	a := client.Open("p1")
	b := client.Open("p2")
	client.Close()

	assert.Equal(t, true, a.IsClosed())
	assert.Equal(t, true, b.IsClosed())
	_, ok := client.Session("p1")
	assert.Equal(t, false, ok)
}
