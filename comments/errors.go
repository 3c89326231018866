package comments

import (
	"errors"
	"fmt"
	"time"
)

// errors.go holds the error taxonomy surfaced by the sync engine
//
// error type checking:
//   sentinels with errors.Is(err, ErrX), typed errors with errors.As(err, &target)

var (
	// the target comment no longer exists. callers treat this as already deleted.
	ErrNotFound = errors.New("comment not found")
	// the signed-in user may not perform the operation
	ErrPermission = errors.New("permission denied")
	ErrClosed     = errors.New("session closed")
	// the comment is still a local placeholder
	ErrPendingCreate = errors.New("comment is not confirmed yet")
)

// guard reasons
const (
	ReasonCooldown       = "cooldown"
	ReasonLinksForbidden = "links forbidden"
	ReasonEmpty          = "empty"
	ReasonTooLong        = "too long"
)

// a submission was blocked locally and never sent to the server
type ValidationError struct {
	Reason string
	Detail string
	// set for `ReasonCooldown`
	RemainingWait time.Duration
}

func (self *ValidationError) Error() string {
	if self.Detail == "" {
		return self.Reason
	}
	return fmt.Sprintf("%s: %s", self.Reason, self.Detail)
}

// the server refused a write. `Message` is shown to the user verbatim.
type RemoteRejection struct {
	StatusCode int
	Message    string
}

func (self *RemoteRejection) Error() string {
	return self.Message
}

type PermissionError struct {
	Message string
}

func (self *PermissionError) Error() string {
	if self.Message == "" {
		return ErrPermission.Error()
	}
	return self.Message
}

func (self *PermissionError) Unwrap() error {
	return ErrPermission
}

// a connection drop. only ever reported through channel status.
type TransportError struct {
	PostId PostId
	Err    error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", self.PostId, self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
