package comments

import (
	"github.com/oklog/ulid/v2"
)

// comparable
// identifies a session or a pending operation in logs.
// ulid backed, so the string form of ids from one client sorts by create time.
type Id ulid.ULID

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
