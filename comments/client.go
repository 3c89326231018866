package comments

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// the remote the client reads from and writes to. `*CommentApi` in production.
type CommentRemote interface {
	CommentReader
	CommentWriter
}

type CommentClientSettings struct {
	ApiUrl    string
	StreamUrl string
	// the session input queue. producers block when it is full.
	InputBufferSize int

	ChannelSettings    *ChannelSettings
	PollSettings       *PollSettings
	GuardSettings      *GuardSettings
	ReconcilerSettings *ReconcilerSettings
	MutationSettings   *MutationSettings
}

func DefaultCommentClientSettings() *CommentClientSettings {
	return &CommentClientSettings{
		InputBufferSize:    32,
		ChannelSettings:    DefaultChannelSettings(),
		PollSettings:       DefaultPollSettings(),
		GuardSettings:      DefaultGuardSettings(),
		ReconcilerSettings: DefaultReconcilerSettings(),
		MutationSettings:   DefaultMutationSettings(),
	}
}

// the entry point for one signed-in user.
// holds at most one `Session` per post.
type CommentClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	identity       *Identity
	remote         CommentRemote
	channelManager *ChannelManager
	guard          *Guard
	submitClock    *SubmitClock
	settings       *CommentClientSettings

	mutex    sync.Mutex
	sessions map[PostId]*Session
}

func NewCommentClientWithDefaults(ctx context.Context, apiUrl string, streamUrl string, byJwt string) (*CommentClient, error) {
	settings := DefaultCommentClientSettings()
	settings.ApiUrl = apiUrl
	settings.StreamUrl = streamUrl
	return NewCommentClient(ctx, byJwt, settings)
}

// the identity is read from the jwt claims. the server verifies the jwt on every call.
func NewCommentClient(ctx context.Context, byJwt string, settings *CommentClientSettings) (*CommentClient, error) {
	identity, err := ParseIdentityUnverified(byJwt)
	if err != nil {
		return nil, err
	}
	channelSettings := *settings.ChannelSettings
	channelSettings.StreamUrl = settings.StreamUrl

	cancelCtx, cancel := context.WithCancel(ctx)
	channelManager := NewChannelManager(cancelCtx, byJwt, &channelSettings)
	remote := NewCommentApi(settings.ApiUrl, byJwt)
	return newCommentClient(cancelCtx, cancel, identity, remote, channelManager, settings), nil
}

func NewCommentClientWithRemote(
	ctx context.Context,
	identity *Identity,
	remote CommentRemote,
	channelManager *ChannelManager,
	settings *CommentClientSettings,
) *CommentClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	return newCommentClient(cancelCtx, cancel, identity, remote, channelManager, settings)
}

func newCommentClient(
	ctx context.Context,
	cancel context.CancelFunc,
	identity *Identity,
	remote CommentRemote,
	channelManager *ChannelManager,
	settings *CommentClientSettings,
) *CommentClient {
	return &CommentClient{
		ctx:            ctx,
		cancel:         cancel,
		identity:       identity,
		remote:         remote,
		channelManager: channelManager,
		guard:          NewGuard(settings.GuardSettings),
		submitClock:    NewSubmitClock(),
		settings:       settings,
		sessions:       map[PostId]*Session{},
	}
}

func (self *CommentClient) Identity() *Identity {
	return self.identity
}

// starts syncing `postId`. an existing session for the post is closed first.
// call on focus, and close the session on unfocus.
func (self *CommentClient) Open(postId PostId) *Session {
	self.mutex.Lock()
	prev := self.sessions[postId]
	session := newSession(self, postId)
	self.sessions[postId] = session
	self.mutex.Unlock()

	if prev != nil {
		prev.Close()
	}
	session.start()
	return session
}

func (self *CommentClient) sessionClosed(session *Session) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.sessions[session.postId] == session {
		delete(self.sessions, session.postId)
	}
}

func (self *CommentClient) Session(postId PostId) (*Session, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	session, ok := self.sessions[postId]
	return session, ok
}

// closes all sessions. writes in flight are abandoned and roll back.
func (self *CommentClient) Close() {
	self.mutex.Lock()
	sessions := []*Session{}
	for _, session := range self.sessions {
		sessions = append(sessions, session)
	}
	self.mutex.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	self.channelManager.Close()
	self.cancel()
}

// one reconciliation input from either producer
type sessionInput struct {
	event    *Event
	snapshot *Snapshot
}

// the sync scope of one viewed post.
// the push channel and the poller feed one queue, drained by one consumer into the `Reconciler`.
// `Close` releases all three and discards anything that arrives afterward.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	client     *CommentClient
	sessionId  Id
	postId     PostId
	store      *Store
	reconciler *Reconciler
	controller *MutationController

	inputs chan *sessionInput

	statusCallbacks *CallbackList[StatusFunction]
	statusMutex     sync.Mutex
	status          ChannelStatus

	channel  *Channel
	poller   *Poller
	consumed chan struct{}

	closeOnce sync.Once
}

func newSession(client *CommentClient, postId PostId) *Session {
	// writes use the client context and outlive the session
	cancelCtx, cancel := context.WithCancel(client.ctx)
	store := NewStore(postId)
	reconciler := NewReconciler(store, client.settings.ReconcilerSettings)
	controller := NewMutationController(
		client.ctx,
		client.identity,
		reconciler,
		client.remote,
		client.guard,
		client.submitClock,
		client.settings.MutationSettings,
	)
	return &Session{
		ctx:             cancelCtx,
		cancel:          cancel,
		client:          client,
		sessionId:       NewId(),
		postId:          postId,
		store:           store,
		reconciler:      reconciler,
		controller:      controller,
		inputs:          make(chan *sessionInput, max(0, client.settings.InputBufferSize)),
		statusCallbacks: NewCallbackList[StatusFunction](),
		status: ChannelStatus{
			PostId: postId,
			State:  Idle,
		},
		consumed: make(chan struct{}),
	}
}

func (self *Session) start() {
	self.channel = self.client.channelManager.Subscribe(self.postId, self.onEvent, self.onStatus)
	self.poller = NewPoller(self.ctx, self.postId, self.client.remote, self.onSnapshot, self.client.settings.PollSettings)

	go HandleError(self.consume, self.cancel)
	go HandleError(func() {
		<-self.ctx.Done()
		self.Close()
	})
	glog.V(2).Infof("[s]%s open %s\n", self.postId, self.sessionId)
}

func (self *Session) enqueue(input *sessionInput) {
	if self.ctx.Err() != nil {
		return
	}
	select {
	case <-self.ctx.Done():
	case self.inputs <- input:
	}
}

func (self *Session) onEvent(event *Event) {
	self.enqueue(&sessionInput{event: event})
}

func (self *Session) onSnapshot(snapshot *Snapshot) {
	self.enqueue(&sessionInput{snapshot: snapshot})
}

func (self *Session) onStatus(status ChannelStatus) {
	self.statusMutex.Lock()
	self.status = status
	self.statusMutex.Unlock()

	for _, statusCallback := range self.statusCallbacks.Get() {
		HandleError(func() {
			statusCallback(status)
		})
	}
}

func (self *Session) consume() {
	defer close(self.consumed)
	for {
		select {
		case <-self.ctx.Done():
			return
		case input := <-self.inputs:
			if self.ctx.Err() != nil {
				// late input for a closed session
				return
			}
			if input.event != nil {
				self.reconciler.IngestEvent(input.event)
			}
			if input.snapshot != nil {
				self.reconciler.IngestSnapshot(input.snapshot)
			}
		}
	}
}

func (self *Session) SessionId() Id {
	return self.sessionId
}

func (self *Session) PostId() PostId {
	return self.postId
}

func (self *Session) Store() *Store {
	return self.store
}

// the ordered comment sequence, newest first
func (self *Session) Comments() []*Comment {
	return self.store.Comments()
}

func (self *Session) AddChangeCallback(changeCallback StoreChangeFunction) func() {
	return self.store.AddChangeCallback(changeCallback)
}

func (self *Session) ChannelStatus() ChannelStatus {
	self.statusMutex.Lock()
	defer self.statusMutex.Unlock()
	return self.status
}

// returns a function that removes the callback
func (self *Session) AddStatusCallback(statusCallback StatusFunction) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *Session) Create(content string) (*Submission, error) {
	return self.controller.Create(content)
}

func (self *Session) Delete(commentId CommentId) (*Submission, error) {
	return self.controller.Delete(commentId)
}

func (self *Session) Like(commentId CommentId) (*Submission, error) {
	return self.controller.Like(commentId)
}

func (self *Session) Dislike(commentId CommentId) (*Submission, error) {
	return self.controller.Dislike(commentId)
}

func (self *Session) Report(commentId CommentId, reason string) *Submission {
	return self.controller.Report(commentId, reason)
}

func (self *Session) IsClosed() bool {
	return self.ctx.Err() != nil
}

func (self *Session) Done() <-chan struct{} {
	return self.ctx.Done()
}

// a single cancellation. returns after the channel subscription, the poller
// and the consumer have all exited.
// do not call from a change callback, which runs on the consumer.
func (self *Session) Close() {
	self.closeOnce.Do(func() {
		self.cancel()
		self.reconciler.Close()
		if self.channel != nil {
			self.channel.Close()
		}
		if self.poller != nil {
			self.poller.Close()
			<-self.poller.Done()
		}
		<-self.consumed
		self.client.sessionClosed(self)
		glog.V(2).Infof("[s]%s close %s\n", self.postId, self.sessionId)
	})
}

// waits up to `timeout` for the store to satisfy `test`
func (self *Session) WaitFor(ctx context.Context, timeout time.Duration, test func(comments []*Comment) bool) bool {
	changed := make(chan struct{}, 1)
	remove := self.AddChangeCallback(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer remove()

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()
	for {
		if test(self.Comments()) {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-self.ctx.Done():
			return test(self.Comments())
		case <-changed:
		}
	}
}
