package comments

import (
	"sync"
	"time"
)

type storeEntry struct {
	comment *Comment
	// local receive time. used to keep comments that are newer than a poll snapshot.
	receivedAt time.Time
}

// per-post canonical in-memory state consumed by the ui.
// ordered newest first. written only by the `Reconciler` and the `MutationController`.
type Store struct {
	postId PostId

	mutex   sync.RWMutex
	entries []*storeEntry
	// comment id -> entry
	commentEntries map[CommentId]*storeEntry

	changeCallbacks *CallbackList[StoreChangeFunction]
}

type StoreChangeFunction = func()

func NewStore(postId PostId) *Store {
	return &Store{
		postId:          postId,
		entries:         []*storeEntry{},
		commentEntries:  map[CommentId]*storeEntry{},
		changeCallbacks: NewCallbackList[StoreChangeFunction](),
	}
}

func (self *Store) PostId() PostId {
	return self.postId
}

// copies of the comments in display order
func (self *Store) Comments() []*Comment {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	comments := make([]*Comment, 0, len(self.entries))
	for _, entry := range self.entries {
		comments = append(comments, entry.comment.Clone())
	}
	return comments
}

func (self *Store) Get(commentId CommentId) (*Comment, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	entry, ok := self.commentEntries[commentId]
	if !ok {
		return nil, false
	}
	return entry.comment.Clone(), true
}

func (self *Store) Len() int {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	return len(self.entries)
}

// the callback is invoked after every applied change, outside of any lock.
// read the current state with `Comments`.
func (self *Store) AddChangeCallback(changeCallback StoreChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Store) notifyChange() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		HandleError(changeCallback)
	}
}

// runs `do` with the write lock held
func (self *Store) edit(do func()) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	do()
}

// the following require the write lock

func (self *Store) get(commentId CommentId) *Comment {
	if entry, ok := self.commentEntries[commentId]; ok {
		return entry.comment
	}
	return nil
}

func (self *Store) contains(commentId CommentId) bool {
	_, ok := self.commentEntries[commentId]
	return ok
}

func (self *Store) indexOf(commentId CommentId) int {
	entry, ok := self.commentEntries[commentId]
	if !ok {
		return -1
	}
	for i, e := range self.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

// `index` is clamped to the current bounds
func (self *Store) insertAt(index int, comment *Comment, receivedAt time.Time) {
	if index < 0 {
		index = 0
	} else if len(self.entries) < index {
		index = len(self.entries)
	}
	entry := &storeEntry{
		comment:    comment,
		receivedAt: receivedAt,
	}
	self.entries = append(self.entries, nil)
	copy(self.entries[index+1:], self.entries[index:])
	self.entries[index] = entry
	self.commentEntries[comment.Id] = entry
}

func (self *Store) insertHead(comment *Comment, receivedAt time.Time) {
	self.insertAt(0, comment, receivedAt)
}

// returns the removed comment and its former index, or nil and -1
func (self *Store) remove(commentId CommentId) (*Comment, int) {
	index := self.indexOf(commentId)
	if index < 0 {
		return nil, -1
	}
	entry := self.entries[index]
	self.entries = append(self.entries[:index], self.entries[index+1:]...)
	delete(self.commentEntries, commentId)
	return entry.comment, index
}

// swaps the comment at the position of `commentId`. the id may change.
func (self *Store) replace(commentId CommentId, comment *Comment, receivedAt time.Time) bool {
	entry, ok := self.commentEntries[commentId]
	if !ok {
		return false
	}
	delete(self.commentEntries, commentId)
	entry.comment = comment
	entry.receivedAt = receivedAt
	self.commentEntries[comment.Id] = entry
	return true
}

func (self *Store) receivedAt(commentId CommentId) time.Time {
	if entry, ok := self.commentEntries[commentId]; ok {
		return entry.receivedAt
	}
	return time.Time{}
}

func (self *Store) commentIds() []CommentId {
	commentIds := make([]CommentId, 0, len(self.entries))
	for _, entry := range self.entries {
		commentIds = append(commentIds, entry.comment.Id)
	}
	return commentIds
}
