package sig

import (
	"errors"

	"github.com/s-hammon/p"
)

var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrInvalidRipAnnotation = errors.New("invalid rip annotation")
	ErrInvalidChainOffset   = errors.New("invalid chain offset")
	ErrEmptyPattern         = errors.New("empty pattern")
)

// ParseError reports where a query failed to compile. Pos is the token index
// within the signature, or the chain index for ErrInvalidChainOffset.
type ParseError struct {
	Kind  error
	Pos   int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Kind == ErrInvalidChainOffset {
		msg = p.Format("%s at chain index %d", msg, e.Pos)
	} else {
		msg = p.Format("%s at token %d", msg, e.Pos)
	}
	if e.Token != "" {
		msg = p.Format("%s (%q)", msg, e.Token)
	}
	if e.Err != nil {
		msg = p.Format("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func parseErr(kind error, pos int, tok string, cause error) error {
	return &ParseError{Kind: kind, Pos: pos, Token: tok, Err: cause}
}
