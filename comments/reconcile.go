package comments

import (
	"sync"
	"time"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"
)

type ReconcilerSettings struct {
	// confirmed deletes remembered so that a stale poll or push cannot resurrect them
	TombstoneCount int
	// how long to wait for the push echo of a local like/dislike
	EchoTimeout time.Duration
	// how long an expected echo is still honored after its operation settles.
	// zero drops it on settle, so a later event from the same user on another device applies.
	// a backend that echoes only after the write response needs a small window,
	// otherwise the late echo toggles again until the next poll.
	SettledEchoTimeout time.Duration
}

func DefaultReconcilerSettings() *ReconcilerSettings {
	return &ReconcilerSettings{
		TombstoneCount:     1024,
		EchoTimeout:        30 * time.Second,
		SettledEchoTimeout: 0,
	}
}

// the push echo of a remote toggle issued by this client
type expectedEcho struct {
	commentId CommentId
	kind      ReactionKind
	userId    UserId
	expiresAt time.Time
}

// merges push events, poll snapshots and pending local operations into one `Store`.
// every input is applied as a single step under `mutex`.
type Reconciler struct {
	store    *Store
	settings *ReconcilerSettings

	mutex  sync.Mutex
	closed bool
	// target comment id -> pending operations on it
	pending map[CommentId][]*PendingOperation
	// placeholder id -> pending create
	pendingCreates map[CommentId]*PendingOperation
	tombstones     *lru.Cache[CommentId, struct{}]
	echoes         []*expectedEcho
	// comment id -> when its last reaction operation settled.
	// snapshots requested before this may not include the reaction yet.
	settled map[CommentId]time.Time

	now func() time.Time
}

func NewReconcilerWithDefaults(store *Store) *Reconciler {
	return NewReconciler(store, DefaultReconcilerSettings())
}

func NewReconciler(store *Store, settings *ReconcilerSettings) *Reconciler {
	tombstones, err := lru.New[CommentId, struct{}](max(1, settings.TombstoneCount))
	if err != nil {
		panic(err)
	}
	return &Reconciler{
		store:          store,
		settings:       settings,
		pending:        map[CommentId][]*PendingOperation{},
		pendingCreates: map[CommentId]*PendingOperation{},
		tombstones:     tombstones,
		echoes:         []*expectedEcho{},
		settled:        map[CommentId]time.Time{},
		now:            time.Now,
	}
}

func (self *Reconciler) Store() *Store {
	return self.store
}

// after close every input is discarded
func (self *Reconciler) Close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.closed = true
}

func (self *Reconciler) IsClosed() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.closed
}

// returns true if the store changed
func (self *Reconciler) apply(do func() bool) bool {
	changed, _ := self.applyQuiet(do)
	if changed {
		self.store.notifyChange()
	}
	return changed
}

// applies without notifying store listeners. `ran` is false when the reconciler is closed.
// callers that hold their own locks notify after releasing them.
func (self *Reconciler) applyQuiet(do func() bool) (changed bool, ran bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return false, false
	}
	self.store.edit(func() {
		changed = do()
	})
	return changed, true
}

func (self *Reconciler) notifyChange() {
	self.store.notifyChange()
}

func (self *Reconciler) hasPending(commentId CommentId) bool {
	return 0 < len(self.pending[commentId])
}

func (self *Reconciler) addPending(op *PendingOperation) {
	self.pending[op.TargetCommentId] = append(self.pending[op.TargetCommentId], op)
}

func (self *Reconciler) removePending(op *PendingOperation) {
	ops := self.pending[op.TargetCommentId]
	for i, pendingOp := range ops {
		if pendingOp == op {
			ops = append(ops[:i], ops[i+1:]...)
			break
		}
	}
	if len(ops) == 0 {
		delete(self.pending, op.TargetCommentId)
	} else {
		self.pending[op.TargetCommentId] = ops
	}
}

func (self *Reconciler) pendingUser(commentId CommentId, userId UserId) bool {
	for _, op := range self.pending[commentId] {
		if op.userId == userId {
			return true
		}
	}
	return false
}

// consumes a matching expected echo
func (self *Reconciler) takeEcho(commentId CommentId, kind ReactionKind, userId UserId) bool {
	now := self.now()
	echoes := self.echoes[:0]
	found := false
	for _, echo := range self.echoes {
		if echo.expiresAt.Before(now) {
			continue
		}
		if !found && echo.commentId == commentId && echo.kind == kind && echo.userId == userId {
			found = true
			continue
		}
		echoes = append(echoes, echo)
	}
	self.echoes = echoes
	return found
}

// expected echoes of a settled operation expire after `SettledEchoTimeout`
func (self *Reconciler) settleEchoes(commentId CommentId, userId UserId) {
	settledExpiresAt := self.now().Add(self.settings.SettledEchoTimeout)
	echoes := self.echoes[:0]
	for _, echo := range self.echoes {
		if echo.commentId == commentId && echo.userId == userId {
			if self.settings.SettledEchoTimeout <= 0 {
				continue
			}
			if settledExpiresAt.Before(echo.expiresAt) {
				echo.expiresAt = settledExpiresAt
			}
		}
		echoes = append(echoes, echo)
	}
	self.echoes = echoes
}

func (self *Reconciler) IngestEvent(event *Event) bool {
	if event.PostId != self.store.PostId() {
		glog.V(1).Infof("[r]%s drop event for post %s\n", self.store.PostId(), event.PostId)
		return false
	}
	return self.apply(func() bool {
		switch event.Kind {
		case EventCreated:
			return self.ingestCreated(event.Comment)
		case EventDeleted:
			return self.ingestDeleted(event.CommentId)
		case EventLiked:
			return self.ingestReaction(event.CommentId, Like, event.UserId)
		case EventDisliked:
			return self.ingestReaction(event.CommentId, Dislike, event.UserId)
		default:
			return false
		}
	})
}

func (self *Reconciler) ingestCreated(comment *Comment) bool {
	if comment == nil {
		return false
	}
	if self.store.contains(comment.Id) || self.tombstones.Contains(comment.Id) {
		return false
	}
	if self.hasPending(comment.Id) {
		// e.g. a pending delete
		return false
	}
	comment = comment.Clone()
	comment.PendingState = Confirmed
	self.store.insertHead(comment, self.now())
	return true
}

func (self *Reconciler) ingestDeleted(commentId CommentId) bool {
	self.tombstones.Add(commentId, struct{}{})
	removed, _ := self.store.remove(commentId)
	return removed != nil
}

func (self *Reconciler) ingestReaction(commentId CommentId, kind ReactionKind, userId UserId) bool {
	if self.takeEcho(commentId, kind, userId) {
		return false
	}
	comment := self.store.get(commentId)
	if comment == nil {
		return false
	}
	if self.pendingUser(commentId, userId) {
		// the local user's membership is owned by the pending operation until it settles
		return false
	}
	toggleReaction(comment, kind, userId)
	return true
}

func (self *Reconciler) IngestSnapshot(snapshot *Snapshot) bool {
	if snapshot.PostId != self.store.PostId() {
		glog.V(1).Infof("[r]%s drop snapshot for post %s\n", self.store.PostId(), snapshot.PostId)
		return false
	}
	return self.apply(func() bool {
		return self.ingestSnapshot(snapshot)
	})
}

func (self *Reconciler) ingestSnapshot(snapshot *Snapshot) bool {
	changed := false
	now := self.now()
	seen := map[CommentId]bool{}

	var prevId CommentId
	for _, record := range snapshot.Comments {
		seen[record.Id] = true
		stale := false
		if settledAt, ok := self.settled[record.Id]; ok {
			if snapshot.RequestedAt.After(settledAt) {
				delete(self.settled, record.Id)
			} else {
				stale = true
			}
		}
		if stale || self.tombstones.Contains(record.Id) || self.hasPending(record.Id) {
			// the optimistic local state wins until it settles
			if self.store.contains(record.Id) {
				prevId = record.Id
			}
			continue
		}

		if comment := self.store.get(record.Id); comment != nil {
			if comment.Content != record.Content ||
				!comment.LikedBy.Equal(record.LikedBy) ||
				!comment.DislikedBy.Equal(record.DislikedBy) {
				comment.Content = record.Content
				comment.LikedBy = record.LikedBy.Clone()
				comment.DislikedBy = record.DislikedBy.Clone()
				changed = true
			}
			if comment.AuthorDisplayName == "" && record.AuthorDisplayName != "" {
				comment.AuthorDisplayName = record.AuthorDisplayName
				changed = true
			}
		} else {
			comment := record.Clone()
			comment.PendingState = Confirmed
			index := self.store.indexOf(prevId)
			if index < 0 {
				// below any local placeholders
				index = 0
				for _, commentId := range self.store.commentIds() {
					if !commentId.IsTemp() {
						break
					}
					index += 1
				}
			} else {
				index += 1
			}
			self.store.insertAt(index, comment, now)
			changed = true
		}
		prevId = record.Id
	}

	for _, commentId := range self.store.commentIds() {
		if seen[commentId] || commentId.IsTemp() || self.hasPending(commentId) {
			continue
		}
		if snapshot.RequestedAt.Before(self.store.receivedAt(commentId)) {
			// newer than the snapshot
			continue
		}
		self.store.remove(commentId)
		changed = true
	}

	return changed
}

// optimistic operations used by the `MutationController`.
// these do not notify store listeners. the controller calls `notifyChange` outside of its locks.

func (self *Reconciler) beginCreate(comment *Comment) (*PendingOperation, error) {
	op := &PendingOperation{
		OperationId:   NewId(),
		Kind:          OperationCreate,
		SubmittedAt:   self.now(),
		placeholderId: comment.Id,
	}
	_, ran := self.applyQuiet(func() bool {
		comment = comment.Clone()
		comment.PendingState = PendingCreate
		self.pendingCreates[op.placeholderId] = op
		self.store.insertHead(comment, self.now())
		return true
	})
	if !ran {
		return nil, ErrClosed
	}
	return op, nil
}

// swaps the placeholder for the server record, in place
func (self *Reconciler) confirmCreate(op *PendingOperation, serverComment *Comment) bool {
	changed, _ := self.applyQuiet(func() bool {
		delete(self.pendingCreates, op.placeholderId)
		serverComment = serverComment.Clone()
		serverComment.PendingState = Confirmed
		if self.store.contains(serverComment.Id) || self.tombstones.Contains(serverComment.Id) {
			// the push channel delivered it first
			removed, _ := self.store.remove(op.placeholderId)
			return removed != nil
		}
		// polls requested before the confirmation may not include it yet
		if !self.store.replace(op.placeholderId, serverComment, self.now()) {
			self.store.insertHead(serverComment, self.now())
		}
		return true
	})
	return changed
}

func (self *Reconciler) rollbackCreate(op *PendingOperation) bool {
	changed, _ := self.applyQuiet(func() bool {
		delete(self.pendingCreates, op.placeholderId)
		removed, _ := self.store.remove(op.placeholderId)
		return removed != nil
	})
	return changed
}

func (self *Reconciler) beginDelete(commentId CommentId, userId UserId) (op *PendingOperation, err error) {
	_, ran := self.applyQuiet(func() bool {
		comment := self.store.get(commentId)
		if comment == nil {
			err = ErrNotFound
			return false
		}
		snapshot := comment.Clone()
		snapshot.PendingState = Confirmed
		_, index := self.store.remove(commentId)
		op = &PendingOperation{
			OperationId:     NewId(),
			Kind:            OperationDelete,
			TargetCommentId: commentId,
			SnapshotBefore:  snapshot,
			SubmittedAt:     self.now(),
			snapshotIndex:   index,
			userId:          userId,
		}
		self.addPending(op)
		return true
	})
	if !ran {
		return nil, ErrClosed
	}
	return
}

func (self *Reconciler) confirmDelete(op *PendingOperation) bool {
	changed, _ := self.applyQuiet(func() bool {
		self.removePending(op)
		self.tombstones.Add(op.TargetCommentId, struct{}{})
		// the comment was already removed when the delete began
		removed, _ := self.store.remove(op.TargetCommentId)
		return removed != nil
	})
	return changed
}

// reinserts the snapshot at its original position
func (self *Reconciler) rollbackDelete(op *PendingOperation) bool {
	changed, _ := self.applyQuiet(func() bool {
		self.removePending(op)
		if self.store.contains(op.TargetCommentId) || self.tombstones.Contains(op.TargetCommentId) {
			return false
		}
		self.store.insertAt(op.snapshotIndex, op.SnapshotBefore.Clone(), self.now())
		return true
	})
	return changed
}

// applies the local toggle. when `op` is nil a new pending operation is opened
// with a snapshot of the comment before this toggle.
func (self *Reconciler) toggleOptimistic(
	commentId CommentId,
	kind ReactionKind,
	userId UserId,
	op *PendingOperation,
) (nextOp *PendingOperation, member bool, err error) {
	nextOp = op
	_, ran := self.applyQuiet(func() bool {
		comment := self.store.get(commentId)
		if comment == nil {
			err = ErrNotFound
			return false
		}
		if nextOp == nil {
			nextOp = &PendingOperation{
				OperationId:     NewId(),
				Kind:            reactionOperationKind(kind),
				TargetCommentId: commentId,
				SnapshotBefore:  comment.Clone(),
				SubmittedAt:     self.now(),
				userId:          userId,
			}
			self.addPending(nextOp)
		}
		member = toggleReaction(comment, kind, userId)
		return true
	})
	if !ran {
		return op, false, ErrClosed
	}
	return
}

// a remote toggle was issued and its push echo should not toggle again
func (self *Reconciler) expectEcho(commentId CommentId, kind ReactionKind, userId UserId) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.echoes = append(self.echoes, &expectedEcho{
		commentId: commentId,
		kind:      kind,
		userId:    userId,
		expiresAt: self.now().Add(self.settings.EchoTimeout),
	})
}

func (self *Reconciler) cancelEcho(commentId CommentId, kind ReactionKind, userId UserId) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.takeEcho(commentId, kind, userId)
}

func (self *Reconciler) settleReaction(op *PendingOperation) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.removePending(op)
	self.settleEchoes(op.TargetCommentId, op.userId)
	self.settled[op.TargetCommentId] = self.now()
}

// restores exactly the snapshot for that one comment,
// discarding any update to it that arrived while the operation was pending
func (self *Reconciler) rollbackReaction(op *PendingOperation) bool {
	changed, _ := self.applyQuiet(func() bool {
		self.removePending(op)
		self.settleEchoes(op.TargetCommentId, op.userId)
		comment := self.store.get(op.TargetCommentId)
		if comment == nil {
			return false
		}
		restoreReactions(comment, op.SnapshotBefore)
		return true
	})
	return changed
}

// the server no longer has the comment. reconciled as a delete.
func (self *Reconciler) removeGone(op *PendingOperation) bool {
	changed, _ := self.applyQuiet(func() bool {
		self.removePending(op)
		self.settleEchoes(op.TargetCommentId, op.userId)
		self.tombstones.Add(op.TargetCommentId, struct{}{})
		removed, _ := self.store.remove(op.TargetCommentId)
		return removed != nil
	})
	return changed
}

func (self *Reconciler) commentMember(commentId CommentId, kind ReactionKind, userId UserId) (member bool, ok bool) {
	self.store.mutex.RLock()
	defer self.store.mutex.RUnlock()
	comment := self.store.get(commentId)
	if comment == nil {
		return false, false
	}
	if kind == Dislike {
		return comment.DislikedBy.Contains(userId), true
	}
	return comment.LikedBy.Contains(userId), true
}

func (self *Reconciler) PendingCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	n := len(self.pendingCreates)
	for _, ops := range self.pending {
		n += len(ops)
	}
	return n
}
