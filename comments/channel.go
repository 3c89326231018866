package comments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ChannelSettings struct {
	// e.g. wss://api.example.com
	StreamUrl string
	// the bearer token is sent under each of these query parameters
	TokenParams      []string
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		TokenParams:      []string{"token", "access_token"},
		ReconnectBase:    2 * time.Second,
		ReconnectMax:     30 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
	}
}

type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Open
	Closed
	Error
)

func (self ConnectionState) String() string {
	switch self {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

type ChannelStatus struct {
	PostId PostId
	State  ConnectionState
	// the delay before the next reconnect attempt
	RetryDelay      time.Duration
	SubscriberCount int
	// a `*TransportError` when `State` is `Error`
	Err error
}

type EventFunction = func(event *Event)
type StatusFunction = func(status ChannelStatus)

// owns one push connection per post, shared by all subscribers of that post.
// the connection opens with the first subscriber and closes with the last.
type ChannelManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	byJwt    string
	settings *ChannelSettings

	mutex    sync.Mutex
	channels map[PostId]*postChannel
}

func NewChannelManagerWithDefaults(ctx context.Context, streamUrl string, byJwt string) *ChannelManager {
	settings := DefaultChannelSettings()
	settings.StreamUrl = streamUrl
	return NewChannelManager(ctx, byJwt, settings)
}

func NewChannelManager(ctx context.Context, byJwt string, settings *ChannelSettings) *ChannelManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChannelManager{
		ctx:      cancelCtx,
		cancel:   cancel,
		byJwt:    byJwt,
		settings: settings,
		channels: map[PostId]*postChannel{},
	}
}

func (self *ChannelManager) Subscribe(postId PostId, onEvent EventFunction, onStatus StatusFunction) *Channel {
	subscriber := &channelSubscriber{
		onEvent:  onEvent,
		onStatus: onStatus,
	}

	self.mutex.Lock()
	channel, ok := self.channels[postId]
	if !ok {
		channel = newPostChannel(self.ctx, postId, self.streamUrl(postId), self.settings)
		self.channels[postId] = channel
	}
	subscriber.subscriberId = channel.subscribers.Add(subscriber)
	if !ok {
		go HandleError(channel.run)
	}
	self.mutex.Unlock()

	subscriber.status(channel.Status())

	return &Channel{
		manager:    self,
		channel:    channel,
		subscriber: subscriber,
	}
}

func (self *ChannelManager) unsubscribe(channel *postChannel, subscriber *channelSubscriber) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	channel.subscribers.Remove(subscriber.subscriberId)
	if channel.subscribers.Len() == 0 {
		if self.channels[channel.postId] == channel {
			delete(self.channels, channel.postId)
		}
		channel.close()
	}
}

func (self *ChannelManager) streamUrl(postId PostId) string {
	query := url.Values{}
	if self.byJwt != "" {
		for _, param := range self.settings.TokenParams {
			query.Set(param, self.byJwt)
		}
	}
	u := fmt.Sprintf(
		"%s/posts/%s/comments",
		strings.TrimSuffix(self.settings.StreamUrl, "/"),
		url.PathEscape(string(postId)),
	)
	if 0 < len(query) {
		u = fmt.Sprintf("%s?%s", u, query.Encode())
	}
	return u
}

func (self *ChannelManager) Close() {
	self.cancel()
}

// a subscription handle. `Close` is terminal.
type Channel struct {
	manager    *ChannelManager
	channel    *postChannel
	subscriber *channelSubscriber
	closeOnce  sync.Once
}

func (self *Channel) PostId() PostId {
	return self.channel.postId
}

func (self *Channel) Status() ChannelStatus {
	return self.channel.Status()
}

func (self *Channel) Close() {
	self.closeOnce.Do(func() {
		self.subscriber.closed.Store(true)
		self.manager.unsubscribe(self.channel, self.subscriber)
		status := self.channel.Status()
		status.State = Closed
		status.RetryDelay = 0
		status.Err = nil
		if self.subscriber.onStatus != nil {
			HandleError(func() {
				self.subscriber.onStatus(status)
			})
		}
	})
}

type channelSubscriber struct {
	subscriberId int
	onEvent      EventFunction
	onStatus     StatusFunction
	closed       atomic.Bool
}

func (self *channelSubscriber) event(event *Event) {
	if self.closed.Load() || self.onEvent == nil {
		return
	}
	HandleError(func() {
		self.onEvent(event)
	})
}

func (self *channelSubscriber) status(status ChannelStatus) {
	if self.closed.Load() || self.onStatus == nil {
		return
	}
	HandleError(func() {
		self.onStatus(status)
	})
}

type postChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	postId    PostId
	streamUrl string
	settings  *ChannelSettings

	subscribers *CallbackList[*channelSubscriber]
	backoff     *Backoff

	statusMutex sync.Mutex
	status      ChannelStatus
}

func newPostChannel(ctx context.Context, postId PostId, streamUrl string, settings *ChannelSettings) *postChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &postChannel{
		ctx:         cancelCtx,
		cancel:      cancel,
		postId:      postId,
		streamUrl:   streamUrl,
		settings:    settings,
		subscribers: NewCallbackList[*channelSubscriber](),
		backoff:     NewBackoff(settings.ReconnectBase, settings.ReconnectMax),
		status: ChannelStatus{
			PostId:     postId,
			State:      Idle,
			RetryDelay: settings.ReconnectBase,
		},
	}
}

func (self *postChannel) Status() ChannelStatus {
	self.statusMutex.Lock()
	defer self.statusMutex.Unlock()
	status := self.status
	status.SubscriberCount = self.subscribers.Len()
	return status
}

func (self *postChannel) setStatus(state ConnectionState, retryDelay time.Duration, err error) {
	self.statusMutex.Lock()
	self.status.State = state
	self.status.RetryDelay = retryDelay
	self.status.Err = err
	self.statusMutex.Unlock()

	status := self.Status()
	for _, subscriber := range self.subscribers.Get() {
		subscriber.status(status)
	}
}

func (self *postChannel) close() {
	self.cancel()
}

func (self *postChannel) run() {
	defer self.cancel()

	// waits `delay` and returns false if the channel was closed meanwhile
	retry := func(err error) bool {
		delay := self.backoff.Next()
		channelReconnects.Inc()
		glog.Infof("[c]%s reconnect in %s (%s)\n", self.postId, delay, err)
		self.setStatus(Error, delay, &TransportError{
			PostId: self.postId,
			Err:    err,
		})
		select {
		case <-self.ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}

	for {
		self.setStatus(Connecting, self.backoff.Delay(), nil)

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[c]connect %s", self.postId), self.connect)
		} else {
			ws, err = self.connect()
		}
		if err != nil {
			if self.ctx.Err() != nil {
				return
			}
			if !retry(err) {
				return
			}
			continue
		}

		self.backoff.Reset()
		self.setStatus(Open, self.backoff.Delay(), nil)

		err = self.handle(ws)
		if self.ctx.Err() != nil {
			// caller-initiated close is terminal
			return
		}
		if !retry(err) {
			return
		}
	}
}

func (self *postChannel) connect() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.streamUrl, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// blocks until the connection drops or the channel closes
func (self *postChannel) handle(ws *websocket.Conn) error {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	var readErr error
	var wg sync.WaitGroup

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingInterval):
				deadline := time.Now().Add(self.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[cs]%s ping error = %s\n", self.postId, err)
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer handleCancel()

		for {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if handleCtx.Err() == nil {
					glog.Infof("[cr]%s<- error = %s\n", self.postId, err)
				}
				readErr = err
				return
			}

			switch messageType {
			case websocket.TextMessage, websocket.BinaryMessage:
				self.receive(message)
			default:
				glog.V(2).Infof("[cr]other=%d %s<-\n", messageType, self.postId)
			}
		}
	}()

	<-handleCtx.Done()
	// unblocks the reader
	ws.Close()
	wg.Wait()

	if readErr == nil {
		readErr = fmt.Errorf("Connection closed.")
	}
	return readErr
}

func (self *postChannel) receive(message []byte) {
	events, err := ParseMessage(self.postId, message)
	if err != nil {
		// the poll corrects any missed state within one cycle
		channelDroppedMessages.Inc()
		glog.V(1).Infof("[cr]%s drop message (%s)\n", self.postId, err)
		return
	}
	glog.V(2).Infof("[cr]%s<- %d events\n", self.postId, len(events))
	for _, event := range events {
		if self.ctx.Err() != nil {
			return
		}
		for _, subscriber := range self.subscribers.Get() {
			subscriber.event(event)
		}
	}
}
