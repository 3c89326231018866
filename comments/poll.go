package comments

import (
	"context"
	"time"

	"github.com/golang/glog"
)

type PollSettings struct {
	// fixed cadence, independent of the push channel state
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultPollSettings() *PollSettings {
	return &PollSettings{
		Interval: 12 * time.Second,
		Timeout:  10 * time.Second,
	}
}

type SnapshotFunction = func(snapshot *Snapshot)

// the consistency backstop. reads the full comment list on a fixed cadence,
// the first read immediately.
type Poller struct {
	ctx    context.Context
	cancel context.CancelFunc

	postId     PostId
	reader     CommentReader
	onSnapshot SnapshotFunction
	settings   *PollSettings

	done chan struct{}
}

func NewPoller(
	ctx context.Context,
	postId PostId,
	reader CommentReader,
	onSnapshot SnapshotFunction,
	settings *PollSettings,
) *Poller {
	cancelCtx, cancel := context.WithCancel(ctx)
	poller := &Poller{
		ctx:        cancelCtx,
		cancel:     cancel,
		postId:     postId,
		reader:     reader,
		onSnapshot: onSnapshot,
		settings:   settings,
		done:       make(chan struct{}),
	}
	go HandleError(poller.run)
	return poller
}

func (self *Poller) run() {
	defer close(self.done)
	defer self.cancel()

	ticker := time.NewTicker(self.settings.Interval)
	defer ticker.Stop()

	for {
		self.poll()
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (self *Poller) poll() {
	requestedAt := time.Now()
	pollCtx, pollCancel := context.WithTimeout(self.ctx, self.settings.Timeout)
	defer pollCancel()

	comments, err := self.reader.Comments(pollCtx, self.postId)
	if err != nil {
		if self.ctx.Err() == nil {
			pollFailures.Inc()
			glog.Infof("[p]%s poll error = %s\n", self.postId, err)
		}
		return
	}
	if self.ctx.Err() != nil {
		// closed while the read was in flight
		return
	}
	self.onSnapshot(&Snapshot{
		PostId:      self.postId,
		Comments:    comments,
		RequestedAt: requestedAt,
	})
}

func (self *Poller) Close() {
	self.cancel()
}

// closed after `run` exits
func (self *Poller) Done() <-chan struct{} {
	return self.done
}
