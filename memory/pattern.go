package memory

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Pattern is a compiled byte pattern made of fixed bytes and any-byte
// wildcards.
//
// Two notations are accepted. The spaced-hex notation lists one byte per
// token, with "?" or "??" for a wildcard:
//
//	48 8B 05 ?? ?? ?? ?? 48 85 C0
//
// The escaped notation writes bytes as \xHH, uses "." for a wildcard and
// "{n}" to repeat the previous byte or wildcard n times. Any other
// character stands for itself; a backslash escapes it.
//
//	\x48\x8B\x05.{4}\x48\x85\xC0
//
// A pattern whose tokens are all hex pairs or wildcards is read as
// spaced-hex.
type Pattern struct {
	source string
	data   []byte
	fixed  []bool
	// first fixed byte, used to skip ahead with IndexByte; -1 if none
	anchor int
}

// CompilePattern parses source.
func CompilePattern(source string) (*Pattern, error) {
	var (
		data  []byte
		fixed []bool
		err   error
	)
	if isSpacedHex(source) {
		data, fixed, err = parseSpacedHex(source)
	} else {
		data, fixed, err = parseEscaped(source)
	}
	if err != nil {
		return nil, &Error{Op: "compile", Kind: ErrBadPattern, Pattern: source, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Op: "compile", Kind: ErrBadPattern, Pattern: source}
	}
	p := &Pattern{source: source, data: data, fixed: fixed, anchor: -1}
	for i, f := range fixed {
		if f {
			p.anchor = i
			break
		}
	}
	return p, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(source string) *Pattern {
	p, err := CompilePattern(source)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string {
	return p.source
}

// Len is the number of bytes a match covers.
func (p *Pattern) Len() int {
	return len(p.data)
}

// Match reports whether data starts with the pattern.
func (p *Pattern) Match(data []byte) bool {
	if len(data) < len(p.data) {
		return false
	}
	return p.matchAt(data, 0)
}

func (p *Pattern) matchAt(data []byte, off int) bool {
	for i, b := range p.data {
		if p.fixed[i] && data[off+i] != b {
			return false
		}
	}
	return true
}

// FindAll returns the offsets of every non-overlapping match in data, in
// ascending order.
func (p *Pattern) FindAll(data []byte) []int {
	var found []int
	n := len(p.data)
	last := len(data) - n
	for i := 0; i <= last; {
		if p.anchor >= 0 {
			j := bytes.IndexByte(data[i+p.anchor:last+p.anchor+1], p.data[p.anchor])
			if j < 0 {
				break
			}
			i += j
		}
		if p.matchAt(data, i) {
			found = append(found, i)
			i += n
			continue
		}
		i++
	}
	return found
}

func isWildcardToken(tok string) bool {
	return tok == "?" || tok == "??"
}

func isSpacedHex(source string) bool {
	tokens := strings.Fields(source)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if isWildcardToken(tok) {
			continue
		}
		if len(tok) != 2 {
			return false
		}
		if _, err := strconv.ParseUint(tok, 16, 8); err != nil {
			return false
		}
	}
	return true
}

func parseSpacedHex(source string) ([]byte, []bool, error) {
	tokens := strings.Fields(source)
	data := make([]byte, len(tokens))
	fixed := make([]bool, len(tokens))
	for i, tok := range tokens {
		if isWildcardToken(tok) {
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, nil, err
		}
		data[i] = byte(v)
		fixed[i] = true
	}
	return data, fixed, nil
}

func parseEscaped(source string) ([]byte, []bool, error) {
	var (
		data  []byte
		fixed []bool
	)
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch c {
		case '\\':
			if i+1 >= len(source) {
				return nil, nil, fmt.Errorf("trailing backslash")
			}
			i++
			if source[i] != 'x' {
				data = append(data, source[i])
				fixed = append(fixed, true)
				continue
			}
			if i+2 >= len(source) {
				return nil, nil, fmt.Errorf("truncated \\x escape at offset %d", i-1)
			}
			v, err := strconv.ParseUint(source[i+1:i+3], 16, 8)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid \\x escape at offset %d", i-1)
			}
			data = append(data, byte(v))
			fixed = append(fixed, true)
			i += 2
		case '.':
			data = append(data, 0)
			fixed = append(fixed, false)
		case '{':
			end := strings.IndexByte(source[i:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("unterminated repetition at offset %d", i)
			}
			if len(data) == 0 {
				return nil, nil, fmt.Errorf("repetition without a preceding byte at offset %d", i)
			}
			count, err := strconv.Atoi(source[i+1 : i+end])
			if err != nil || count < 1 {
				return nil, nil, fmt.Errorf("invalid repetition count %q", source[i+1:i+end])
			}
			b, f := data[len(data)-1], fixed[len(fixed)-1]
			for k := 1; k < count; k++ {
				data = append(data, b)
				fixed = append(fixed, f)
			}
			i += end
		case '[', ']', '(', ')', '*', '+', '?', '|', '^', '$', '}':
			return nil, nil, fmt.Errorf("unsupported construct %q at offset %d", c, i)
		default:
			data = append(data, c)
			fixed = append(fixed, true)
		}
	}
	return data, fixed, nil
}
