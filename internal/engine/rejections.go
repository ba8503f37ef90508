package engine

import "errors"

// Rejection is a recoverable business outcome: the request was refused by a
// rule before any state changed. It is distinct from consistency failures,
// which surface as ordinary wrapped errors and may leave partial state.
type Rejection struct {
	msg string
}

func (r *Rejection) Error() string {
	return r.msg
}

// Business rejections with their user-facing messages.
var (
	ErrInsufficientPoints   = &Rejection{msg: "Not enough points, please choose lower quantities."}
	ErrUndoCancellation     = &Rejection{msg: "It is not possible to undo a sale cancellation."}
	ErrSaleAlreadyValid     = &Rejection{msg: "Sale is already valid."}
	ErrSaleAlreadyCancelled = &Rejection{msg: "Sale is already canceled."}
)

// IsRejection reports whether err is a business rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
