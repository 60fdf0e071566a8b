package protocol

import "golang.org/x/xerrors"

// ErrProtocolViolation covers a wrong round, duplicate sender, or
// malformed frame received during a round — spec.md §7.
var ErrProtocolViolation = xerrors.New("protocol: violation")
