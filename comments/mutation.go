package comments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

type MutationSettings struct {
	// sent with every create
	PlatformTag  string
	WriteTimeout time.Duration
}

func DefaultMutationSettings() *MutationSettings {
	return &MutationSettings{
		PlatformTag:  "go",
		WriteTimeout: 30 * time.Second,
	}
}

// serializes like and dislike toggles on one comment.
// at most one remote call is in flight. toggles made meanwhile collapse into the
// user's latest intent, which is sent when the in-flight call returns.
type reactionLane struct {
	op *PendingOperation
	// the reactions the server holds as far as this lane knows
	serverLiked    bool
	serverDisliked bool
	submissions    []*Submission
}

// executes user writes: optimistic store update first, then the remote call,
// then exactly one confirm or rollback.
type MutationController struct {
	// remote writes outlive the viewed post. a like sent right before navigating away still lands.
	ctx context.Context

	postId      PostId
	identity    *Identity
	reconciler  *Reconciler
	writer      CommentWriter
	guard       *Guard
	submitClock *SubmitClock
	settings    *MutationSettings

	mutex      sync.Mutex
	nextTempId int64
	lanes      map[CommentId]*reactionLane
}

func NewMutationController(
	ctx context.Context,
	identity *Identity,
	reconciler *Reconciler,
	writer CommentWriter,
	guard *Guard,
	submitClock *SubmitClock,
	settings *MutationSettings,
) *MutationController {
	return &MutationController{
		ctx:         ctx,
		postId:      reconciler.Store().PostId(),
		identity:    identity,
		reconciler:  reconciler,
		writer:      writer,
		guard:       guard,
		submitClock: submitClock,
		settings:    settings,
		lanes:       map[CommentId]*reactionLane{},
	}
}

// the guard runs first. a rejection is returned as a `*ValidationError` with no state change.
func (self *MutationController) Create(content string) (*Submission, error) {
	content = strings.TrimSpace(content)

	authorId := self.identity.UserId
	var placeholderId CommentId
	var op *PendingOperation
	result, err := self.submitClock.submit(self.guard, content, func() (err error) {
		self.mutex.Lock()
		self.nextTempId += 1
		placeholderId = TempCommentId(self.nextTempId)
		self.mutex.Unlock()

		op, err = self.reconciler.beginCreate(&Comment{
			Id:                placeholderId,
			PostId:            self.postId,
			AuthorDisplayName: self.identity.DisplayName,
			AuthorId:          &authorId,
			Content:           content,
			CreatedAt:         time.Now(),
			LikedBy:           UserIdSet{},
			DislikedBy:        UserIdSet{},
		})
		return
	})
	if err != nil {
		return nil, err
	}
	if !result.Allowed() {
		return nil, result.Rejection
	}
	self.reconciler.notifyChange()

	submission := newSubmission(OperationCreate)
	submission.Warnings = result.Warnings

	rollback := func(err error) {
		if self.reconciler.rollbackCreate(op) {
			self.reconciler.notifyChange()
		}
		mutationRollbacks.WithLabelValues(OperationCreate.String()).Inc()
		glog.Infof("[m]%s create %s op %s rolled back (%s)\n", self.postId, placeholderId, op.OperationId, err)
		submission.settle(nil, err)
	}

	go HandleError(func() {
		writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
		defer writeCancel()

		serverComment, err := self.writer.Create(writeCtx, self.postId, content, self.settings.PlatformTag)
		if err != nil {
			// no automatic retry
			rollback(err)
			return
		}
		if serverComment.AuthorId == nil {
			serverComment.AuthorId = &authorId
		}
		if serverComment.AuthorDisplayName == "" {
			serverComment.AuthorDisplayName = self.identity.DisplayName
		}
		if self.reconciler.confirmCreate(op, serverComment) {
			self.reconciler.notifyChange()
		}
		submission.settle(serverComment, nil)
	}, rollback)

	return submission, nil
}

// the local ownership check is advisory. the server remains the authority.
func (self *MutationController) Delete(commentId CommentId) (*Submission, error) {
	if commentId.IsTemp() {
		return nil, ErrPendingCreate
	}
	comment, ok := self.reconciler.Store().Get(commentId)
	if !ok {
		// already deleted
		return newSettledSubmission(OperationDelete, nil), nil
	}
	if !comment.IsAuthor(self.identity) {
		return nil, &PermissionError{
			Message: "Only the author can delete this comment.",
		}
	}

	op, err := self.reconciler.beginDelete(commentId, self.identity.UserId)
	if errors.Is(err, ErrNotFound) {
		return newSettledSubmission(OperationDelete, nil), nil
	} else if err != nil {
		return nil, err
	}
	self.reconciler.notifyChange()

	submission := newSubmission(OperationDelete)

	rollback := func(err error) {
		if self.reconciler.rollbackDelete(op) {
			self.reconciler.notifyChange()
		}
		mutationRollbacks.WithLabelValues(OperationDelete.String()).Inc()
		glog.Infof("[m]%s delete %s op %s rolled back (%s)\n", self.postId, commentId, op.OperationId, err)
		submission.settle(nil, err)
	}

	go HandleError(func() {
		writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
		defer writeCancel()

		err := self.writer.Delete(writeCtx, self.postId, commentId)
		if err != nil && !IsNotFound(err) {
			rollback(err)
			return
		}
		if self.reconciler.confirmDelete(op) {
			self.reconciler.notifyChange()
		}
		submission.settle(nil, nil)
	}, rollback)

	return submission, nil
}

func (self *MutationController) Like(commentId CommentId) (*Submission, error) {
	return self.react(commentId, Like)
}

func (self *MutationController) Dislike(commentId CommentId) (*Submission, error) {
	return self.react(commentId, Dislike)
}

func (self *MutationController) react(commentId CommentId, kind ReactionKind) (*Submission, error) {
	if commentId.IsTemp() {
		return nil, ErrPendingCreate
	}
	userId := self.identity.UserId

	submission, start, err := func() (*Submission, *reactionLane, error) {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		lane := self.lanes[commentId]
		var op *PendingOperation
		if lane != nil {
			op = lane.op
		}
		nextOp, _, err := self.reconciler.toggleOptimistic(commentId, kind, userId, op)
		if errors.Is(err, ErrNotFound) {
			// treated as already deleted
			return newSettledSubmission(reactionOperationKind(kind), nil), nil, nil
		} else if err != nil {
			return nil, nil, err
		}

		submission := newSubmission(reactionOperationKind(kind))
		if lane == nil {
			lane = &reactionLane{
				op:             nextOp,
				serverLiked:    nextOp.SnapshotBefore.LikedBy.Contains(userId),
				serverDisliked: nextOp.SnapshotBefore.DislikedBy.Contains(userId),
			}
			self.lanes[commentId] = lane
			lane.submissions = append(lane.submissions, submission)
			return submission, lane, nil
		}
		lane.submissions = append(lane.submissions, submission)
		return submission, nil, nil
	}()
	if err != nil {
		return nil, err
	}
	self.reconciler.notifyChange()

	if start != nil {
		go HandleError(func() {
			self.runLane(commentId, start)
		}, func(err error) {
			self.failLane(commentId, start, reactionOperationKind(kind), err)
		})
	}
	return submission, nil
}

// the next remote toggle that moves the server toward the desired state.
// the server clears the opposing reaction when a reaction is set.
func nextReaction(liked bool, disliked bool, serverLiked bool, serverDisliked bool) (ReactionKind, bool) {
	switch {
	case disliked && !serverDisliked:
		return Dislike, true
	case liked && !serverLiked:
		return Like, true
	case !liked && serverLiked:
		return Like, true
	case !disliked && serverDisliked:
		return Dislike, true
	default:
		return Like, false
	}
}

func (self *MutationController) runLane(commentId CommentId, lane *reactionLane) {
	userId := self.identity.UserId
	for {
		kind, send := func() (ReactionKind, bool) {
			self.mutex.Lock()
			defer self.mutex.Unlock()

			liked, likedOk := self.reconciler.commentMember(commentId, Like, userId)
			disliked, dislikedOk := self.reconciler.commentMember(commentId, Dislike, userId)
			if likedOk && dislikedOk {
				if kind, send := nextReaction(liked, disliked, lane.serverLiked, lane.serverDisliked); send {
					return kind, true
				}
			}
			// the local state is the user's latest intent and the server holds it
			delete(self.lanes, commentId)
			self.reconciler.settleReaction(lane.op)
			return Like, false
		}()
		if !send {
			lane.settle(nil)
			return
		}

		self.reconciler.expectEcho(commentId, kind, userId)
		err := self.remoteToggle(commentId, kind)
		if err != nil {
			self.reconciler.cancelEcho(commentId, kind, userId)
			self.failLane(commentId, lane, reactionOperationKind(kind), err)
			return
		}

		self.mutex.Lock()
		if kind == Dislike {
			lane.serverDisliked = !lane.serverDisliked
			if lane.serverDisliked {
				lane.serverLiked = false
			}
		} else {
			lane.serverLiked = !lane.serverLiked
			if lane.serverLiked {
				lane.serverDisliked = false
			}
		}
		self.mutex.Unlock()
	}
}

func (self *MutationController) remoteToggle(commentId CommentId, kind ReactionKind) error {
	writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
	defer writeCancel()

	if kind == Dislike {
		return self.writer.Dislike(writeCtx, self.postId, commentId)
	}
	return self.writer.Like(writeCtx, self.postId, commentId)
}

func (self *MutationController) failLane(commentId CommentId, lane *reactionLane, kind OperationKind, err error) {
	changed := func() bool {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		if self.lanes[commentId] == lane {
			delete(self.lanes, commentId)
		}
		if IsNotFound(err) {
			return self.reconciler.removeGone(lane.op)
		}
		// earlier calls in this lane may have landed
		userId := self.identity.UserId
		snapshot := lane.op.SnapshotBefore
		snapshot.LikedBy.Remove(userId)
		snapshot.DislikedBy.Remove(userId)
		if lane.serverLiked {
			snapshot.LikedBy.Add(userId)
		} else if lane.serverDisliked {
			snapshot.DislikedBy.Add(userId)
		}
		return self.reconciler.rollbackReaction(lane.op)
	}()
	if changed {
		self.reconciler.notifyChange()
	}

	if IsNotFound(err) {
		// not a failure. the comment is gone.
		lane.settle(nil)
		return
	}
	mutationRollbacks.WithLabelValues(kind.String()).Inc()
	glog.Infof("[m]%s %s %s op %s rolled back (%s)\n", self.postId, kind, commentId, lane.op.OperationId, err)
	lane.settle(err)
}

func (self *reactionLane) settle(err error) {
	for _, submission := range self.submissions {
		submission.settle(nil, err)
	}
}

// passes through to the server. the store is not changed.
func (self *MutationController) Report(commentId CommentId, reason string) *Submission {
	submission := newSubmission(OperationReport)
	go HandleError(func() {
		writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
		defer writeCancel()

		err := self.writer.Report(writeCtx, self.postId, commentId, reason)
		if IsNotFound(err) {
			err = nil
		}
		submission.settle(nil, err)
	}, func(err error) {
		submission.settle(nil, err)
	})
	return submission
}
