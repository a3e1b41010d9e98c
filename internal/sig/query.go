package sig

import (
	"strconv"
	"strings"

	"github.com/s-hammon/p"
)

type AddressKind int

const (
	Absolute AddressKind = iota
	Derived
)

func (k AddressKind) String() string {
	if k == Derived {
		return "derived"
	}

	return "absolute"
}

// Address is a location in the target process. Derived addresses come out of
// signature resolution, absolute ones straight from the query.
type Address struct {
	Value uint64
	Kind  AddressKind
}

func (a Address) String() string {
	return p.Format("0x%X", a.Value)
}

// Query is the compiled form of a locator string: either a plain address or
// a signature.
type Query struct {
	Address Address
	Pattern *Pattern
}

func (q Query) IsPattern() bool {
	return q.Pattern != nil
}

func (q Query) String() string {
	if q.Pattern != nil {
		return q.Pattern.String()
	}

	return q.Address.String()
}

// ParseQuery compiles a raw "0x..." address or a signature.
func ParseQuery(s string) (Query, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Query{}, parseErr(ErrEmptyPattern, 0, "", nil)
	}

	if lit, ok := hexLiteral(fields[0]); ok {
		if len(fields) > 1 {
			return Query{}, parseErr(ErrInvalidToken, 1, fields[1], nil)
		}

		v, err := strconv.ParseUint(lit, 16, 64)
		if err != nil {
			return Query{}, parseErr(ErrInvalidToken, 0, fields[0], err)
		}

		return Query{Address: Address{Value: v, Kind: Absolute}}, nil
	}

	pat, err := ParseSignature(s)
	if err != nil {
		return Query{}, err
	}

	return Query{Pattern: pat}, nil
}

func hexLiteral(tok string) (string, bool) {
	if len(tok) < 2 || tok[0] != '0' || (tok[1] != 'x' && tok[1] != 'X') {
		return "", false
	}

	return tok[2:], true
}
