package group

import "golang.org/x/xerrors"

// Error kinds from spec.md §7, fatal to the run wherever they surface.
var (
	ErrRNGUnavailable = xerrors.New("group: OS randomness source unavailable")
	ErrNotInvertible  = xerrors.New("group: modular inverse undefined")
)
