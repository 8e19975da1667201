package game

import "errors"

// Kind classifies an Error so callers can pick a response (HTTP status,
// exit code) without matching individual sentinels.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	}
	return "internal"
}

// Error is a classified game error. Sentinels below are compared by identity
// with errors.Is; Transient wraps a backing-store failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrMissingPlayer = &Error{Kind: KindValidation, Msg: "player id is required"}
	ErrMissingGameID = &Error{Kind: KindValidation, Msg: "game id is required"}
	ErrMissingWord   = &Error{Kind: KindValidation, Msg: "word is required"}
	ErrInvalidWord   = &Error{Kind: KindValidation, Msg: "invalid word"}

	ErrGameNotFound  = &Error{Kind: KindNotFound, Msg: "game not found"}
	ErrRoundNotFound = &Error{Kind: KindNotFound, Msg: "round not found"}

	ErrNotPending         = &Error{Kind: KindConflict, Msg: "game is not pending"}
	ErrOwnGame            = &Error{Kind: KindConflict, Msg: "cannot join own game"}
	ErrNotInProgress      = &Error{Kind: KindConflict, Msg: "game not in progress"}
	ErrInvalidPlayer      = &Error{Kind: KindConflict, Msg: "invalid player"}
	ErrWaitingForOpponent = &Error{Kind: KindConflict, Msg: "waiting for opponent"}
	ErrRoundClosed        = &Error{Kind: KindConflict, Msg: "round already scored"}
	ErrRoundOpen          = &Error{Kind: KindConflict, Msg: "round still collecting"}
	ErrGameOver           = &Error{Kind: KindConflict, Msg: "game is over"}
	ErrAlreadyApplied     = &Error{Kind: KindConflict, Msg: "transition already applied"}
)

// Transient marks err as a retryable backing-store failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Msg: "storage unavailable", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
