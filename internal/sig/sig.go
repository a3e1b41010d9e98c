package sig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/s-hammon/p"
)

// Token is a single signature position: either a literal byte or a wildcard.
type Token struct {
	value    byte
	wildcard bool
}

func Byte(v byte) Token {
	return Token{value: v}
}

func Wildcard() Token {
	return Token{wildcard: true}
}

func (t Token) IsWildcard() bool {
	return t.wildcard
}

// Value returns the literal byte. ok is false for wildcards.
func (t Token) Value() (v byte, ok bool) {
	if t.wildcard {
		return 0, false
	}

	return t.value, true
}

func (t Token) Matches(b byte) bool {
	return t.wildcard || t.value == b
}

func (t Token) String() string {
	if t.wildcard {
		return "??"
	}

	return p.Format("%02X", t.value)
}

// RipDescriptor locates a 4-byte signed displacement inside the matched
// instruction. The target is relative to the end of the instruction.
type RipDescriptor struct {
	Offset            uint
	InstructionLength uint
}

func (d RipDescriptor) valid() bool {
	return d.Offset+4 <= d.InstructionLength
}

func (d RipDescriptor) String() string {
	return p.Format("@%d/%d", d.Offset, d.InstructionLength)
}

// Chain is a list of offsets walked from a base address. Every element but
// the last is dereferenced; the last is added to the final pointer.
type Chain []int64

func (c Chain) Derefs() []int64 {
	if len(c) == 0 {
		return nil
	}

	return c[:len(c)-1]
}

func (c Chain) Final() int64 {
	if len(c) == 0 {
		return 0
	}

	return c[len(c)-1]
}

func (c Chain) String() string {
	parts := make([]string, 0, len(c))
	for _, off := range c {
		parts = append(parts, formatOffset(off))
	}

	return strings.Join(parts, " -> ")
}

// Pattern is a compiled signature. It is never modified after construction
// and may be shared between goroutines.
type Pattern struct {
	tokens []Token
	rip    *RipDescriptor
	ripAt  int
	chain  Chain
}

// NewPattern builds a pattern from already decoded parts. rip may be nil and
// chain may be empty.
func NewPattern(tokens []Token, rip *RipDescriptor, chain Chain) (*Pattern, error) {
	if len(tokens) == 0 {
		return nil, parseErr(ErrEmptyPattern, 0, "", nil)
	}
	if rip != nil && !rip.valid() {
		return nil, parseErr(ErrInvalidRipAnnotation, len(tokens)-1, rip.String(), errors.New("offset+4 exceeds instruction length"))
	}

	pat := &Pattern{tokens: append([]Token(nil), tokens...)}
	if rip != nil {
		d := *rip
		pat.rip, pat.ripAt = &d, len(tokens)-1
	}
	if len(chain) > 0 {
		pat.chain = append(Chain(nil), chain...)
	}

	return pat, nil
}

func (pa *Pattern) Len() int {
	return len(pa.tokens)
}

func (pa *Pattern) Tokens() []Token {
	return append([]Token(nil), pa.tokens...)
}

// Rip returns the displacement descriptor, if the signature carries one.
func (pa *Pattern) Rip() (RipDescriptor, bool) {
	if pa.rip == nil {
		return RipDescriptor{}, false
	}

	return *pa.rip, true
}

func (pa *Pattern) Chain() Chain {
	return append(Chain(nil), pa.chain...)
}

func (pa *Pattern) MatchAt(buf []byte, off int) bool {
	if off < 0 || off+len(pa.tokens) > len(buf) {
		return false
	}

	for i, tok := range pa.tokens {
		if !tok.Matches(buf[off+i]) {
			return false
		}
	}

	return true
}

func (pa *Pattern) Find(buf []byte) int {
	for i := 0; i+len(pa.tokens) <= len(buf); i++ {
		if pa.MatchAt(buf, i) {
			return i
		}
	}

	return -1
}

// String renders the pattern in the same syntax ParseSignature accepts.
func (pa *Pattern) String() string {
	parts := make([]string, 0, len(pa.tokens))
	for i, tok := range pa.tokens {
		s := tok.String()
		if pa.rip != nil && i == pa.ripAt {
			s += pa.rip.String()
		}
		parts = append(parts, s)
	}

	out := strings.Join(parts, " ")
	if len(pa.chain) > 0 {
		out += " -> " + pa.chain.String()
	}

	return out
}

// ParseSignature compiles an IDA-style signature such as
//
//	48 8B 05 ?? ?? ?? ??@3/7 -> 0x210 -> 0x520
func ParseSignature(s string) (*Pattern, error) {
	segments := strings.Split(s, "->")

	var (
		tokens []Token
		rip    *RipDescriptor
		ripAt  int
	)
	for i, field := range strings.Fields(segments[0]) {
		tok, anno, annotated := strings.Cut(field, "@")
		if tok == "" {
			return nil, parseErr(ErrInvalidRipAnnotation, i, field, errors.New("annotation must follow a token"))
		}

		t, err := parseToken(tok)
		if err != nil {
			return nil, parseErr(ErrInvalidToken, i, tok, err)
		}
		tokens = append(tokens, t)

		if !annotated {
			continue
		}
		if rip != nil {
			return nil, parseErr(ErrInvalidRipAnnotation, i, field, errors.New("duplicate annotation"))
		}

		d, err := parseRip(anno)
		if err != nil {
			return nil, parseErr(ErrInvalidRipAnnotation, i, field, err)
		}
		rip, ripAt = &d, i
	}

	if len(tokens) == 0 {
		return nil, parseErr(ErrEmptyPattern, 0, "", nil)
	}

	var chain Chain
	for i, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		off, err := parseOffset(seg)
		if err != nil {
			return nil, parseErr(ErrInvalidChainOffset, i, seg, err)
		}
		chain = append(chain, off)
	}

	pat, err := NewPattern(tokens, rip, chain)
	if err != nil {
		return nil, err
	}
	if rip != nil {
		pat.ripAt = ripAt
	}

	return pat, nil
}

func parseToken(tok string) (Token, error) {
	switch tok {
	case "?", "??":
		return Wildcard(), nil
	}

	if len(tok) != 2 {
		return Token{}, errors.New("want two hex digits or ?")
	}
	v, err := strconv.ParseUint(tok, 16, 8)
	if err != nil {
		return Token{}, err
	}

	return Byte(byte(v)), nil
}

func parseRip(s string) (RipDescriptor, error) {
	offStr, lenStr, ok := strings.Cut(s, "/")
	if !ok {
		return RipDescriptor{}, errors.New("want @offset/size")
	}

	off, err := strconv.ParseUint(offStr, 10, 32)
	if err != nil {
		return RipDescriptor{}, fmt.Errorf("offset %q: %w", offStr, err)
	}
	size, err := strconv.ParseUint(lenStr, 10, 32)
	if err != nil {
		return RipDescriptor{}, fmt.Errorf("instruction size %q: %w", lenStr, err)
	}

	d := RipDescriptor{Offset: uint(off), InstructionLength: uint(size)}
	if !d.valid() {
		return RipDescriptor{}, errors.New("offset+4 exceeds instruction length")
	}

	return d, nil
}

// parseOffset accepts hex with an optional sign and 0x prefix.
func parseOffset(s string) (int64, error) {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || s[0] == '-' || s[0] == '+' {
		return 0, errors.New("missing hex digits")
	}

	return strconv.ParseInt(sign+s, 16, 64)
}

func formatOffset(off int64) string {
	if off < 0 {
		// -off overflows for MinInt64, so format the magnitude as unsigned
		return p.Format("-0x%X", uint64(-(off + 1))+1)
	}

	return p.Format("0x%X", off)
}
