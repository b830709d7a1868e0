package incident

import "github.com/linnemanlabs/go-core/xerrors"

// Sentinel errors for the failure classes callers need to distinguish.
// Wrap with xerrors.Wrapf / fmt.Errorf("%w") to add context; match with
// errors.Is.
var (
	// ErrValidation means the input was malformed; nothing ran.
	ErrValidation = xerrors.New("invalid submission")

	// ErrInsufficientCredits means the submitter's balance cannot cover the
	// request; raised before pipeline entry.
	ErrInsufficientCredits = xerrors.New("insufficient credits")

	// ErrInvalidState means an operation was attempted from a lifecycle
	// state that does not permit it.
	ErrInvalidState = xerrors.New("invalid incident state for operation")

	// ErrNotFound means no entity exists for the given identifier.
	ErrNotFound = xerrors.New("not found")
)
