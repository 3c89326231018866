package comments

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type OperationKind int

const (
	OperationCreate OperationKind = iota
	OperationDelete
	OperationLike
	OperationDislike
	OperationReport
)

func (self OperationKind) String() string {
	switch self {
	case OperationCreate:
		return "create"
	case OperationDelete:
		return "delete"
	case OperationLike:
		return "like"
	case OperationDislike:
		return "dislike"
	case OperationReport:
		return "report"
	default:
		return fmt.Sprintf("operation(%d)", int(self))
	}
}

func reactionOperationKind(kind ReactionKind) OperationKind {
	if kind == Dislike {
		return OperationDislike
	}
	return OperationLike
}

// an in-flight mutation awaiting server confirmation.
// exists only between submission and confirm/rollback.
type PendingOperation struct {
	OperationId Id
	Kind        OperationKind
	// unset for `OperationCreate`
	TargetCommentId CommentId
	// the comment before the optimistic edit. nil for `OperationCreate`.
	SnapshotBefore *Comment
	SubmittedAt    time.Time

	// the local placeholder id for `OperationCreate`
	placeholderId CommentId
	// the position of the comment before an `OperationDelete`
	snapshotIndex int
	userId        UserId
}

// the caller-facing handle of a mutation.
// the optimistic store update has already been applied when the handle is returned.
type Submission struct {
	Kind OperationKind
	// soft guard warnings for `OperationCreate`
	Warnings []string

	done chan struct{}

	mutex   sync.Mutex
	err     error
	comment *Comment
}

func newSubmission(kind OperationKind) *Submission {
	return &Submission{
		Kind: kind,
		done: make(chan struct{}),
	}
}

// a submission that settled without a round trip
func newSettledSubmission(kind OperationKind, err error) *Submission {
	submission := newSubmission(kind)
	submission.settle(nil, err)
	return submission
}

func (self *Submission) settle(comment *Comment, err error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	select {
	case <-self.done:
		return
	default:
	}
	self.comment = comment
	self.err = err
	close(self.done)
}

func (self *Submission) Done() <-chan struct{} {
	return self.done
}

// nil until done, and nil on success
func (self *Submission) Err() error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.err
}

// the confirmed server record for `OperationCreate`
func (self *Submission) Comment() *Comment {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.comment.Clone()
}

func (self *Submission) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.done:
		return self.Err()
	}
}
