package partial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrMalformed is recorded when the input can no longer be a prefix of a JSON
// document. The parser stops consuming and keeps its last good state.
var ErrMalformed = errors.New("malformed json")

type kind uint8

const (
	kindObject kind = iota
	kindArray
	kindString
	kindNumber
	kindLiteral
)

type node struct {
	kind   kind
	keys   []string
	fields map[string]*node
	items  []*node
	text   strings.Builder
	done   bool
}

type frameState uint8

const (
	objKeyOrEnd frameState = iota
	objKey
	objColon
	objValue
	objCommaOrEnd
	arrValueOrEnd
	arrValue
	arrCommaOrEnd
)

type frame struct {
	n     *node
	path  string
	state frameState
	key   string
}

// Parser reconstructs a JSON object or array from an arbitrarily split text
// stream. Text before the first '{' or '[' and after the root value closes
// is ignored.
type Parser struct {
	root  *node
	stack []*frame

	scalar     *node
	scalarPath string
	str        *strDecoder

	keyBuf *strings.Builder
	keyDec *strDecoder

	active    string
	completed []string
	seen      map[string]struct{}

	version uint64
	done    bool
	err     error
}

func NewParser() *Parser {
	return &Parser{seen: make(map[string]struct{})}
}

// Write consumes a fragment and reports whether the reconstructed state changed.
func (p *Parser) Write(fragment string) bool {
	before := p.version
	for i := 0; i < len(fragment) && p.err == nil && !p.done; i++ {
		p.step(fragment[i])
	}
	return p.version != before
}

// Finish completes a trailing number that the stream ended on.
func (p *Parser) Finish() bool {
	if p.err != nil || p.scalar == nil || p.scalar.kind != kindNumber {
		return false
	}
	before := p.version
	p.finishNumber()
	return p.version != before
}

// Started reports whether a root value has been opened.
func (p *Parser) Started() bool { return p.root != nil }

// Done reports whether the root value has been closed.
func (p *Parser) Done() bool { return p.done }

// Err returns ErrMalformed (wrapped) once the input stopped being valid.
func (p *Parser) Err() error { return p.err }

// ActivePath is the path of the value most recently started; empty before
// any field has been opened.
func (p *Parser) ActivePath() string { return p.active }

// CompletedPaths returns the closed value paths in completion order.
func (p *Parser) CompletedPaths() []string {
	return append([]string(nil), p.completed...)
}

// Value returns a fresh copy of the best-effort value. Unfinished numbers
// and literals are nil; unfinished strings hold the text seen so far.
func (p *Parser) Value() any {
	if p.root == nil {
		return nil
	}
	return p.root.value()
}

func (p *Parser) fail(format string, args ...any) {
	p.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func (p *Parser) step(c byte) {
	if p.root == nil {
		switch c {
		case '{', '[':
			p.root = p.open(c, "")
			p.version++
		}
		return
	}

	if p.scalar != nil {
		switch p.scalar.kind {
		case kindString:
			p.version++
			closed, err := p.str.feed(c)
			if err != nil {
				p.fail("%v", err)
				return
			}
			if closed {
				p.completeScalar()
			}
			return
		case kindNumber:
			if isNumberByte(c) {
				p.scalar.text.WriteByte(c)
				p.version++
				return
			}
			p.finishNumber()
			if p.err != nil {
				return
			}
		case kindLiteral:
			p.scalar.text.WriteByte(c)
			p.version++
			lit := p.scalar.text.String()
			target, ok := literalFor(lit)
			switch {
			case !ok:
				p.fail("unexpected literal %q", lit)
			case lit == target:
				p.completeScalar()
			}
			return
		}
	}

	top := p.stack[len(p.stack)-1]
	if p.keyDec != nil {
		p.version++
		closed, err := p.keyDec.feed(c)
		if err != nil {
			p.fail("%v", err)
			return
		}
		if closed {
			key := p.keyBuf.String()
			p.keyDec, p.keyBuf = nil, nil
			// 重复键会改写已完成的字段，按畸形输入处理并保留上一个状态
			if _, dup := top.n.fields[key]; dup {
				p.fail("duplicate key %q at %s", key, displayPath(top.path))
				return
			}
			top.key = key
			top.state = objColon
		}
		return
	}

	if isSpace(c) {
		return
	}
	p.version++

	switch top.state {
	case objKeyOrEnd, objKey:
		switch c {
		case '"':
			p.keyBuf = &strings.Builder{}
			p.keyDec = &strDecoder{buf: p.keyBuf}
		case '}':
			p.close()
		default:
			p.fail("expected object key, got %q", c)
		}
	case objColon:
		if c != ':' {
			p.fail("expected ':', got %q", c)
			return
		}
		top.state = objValue
	case objValue:
		path := joinPath(top.path, top.key)
		top.state = objCommaOrEnd
		child := p.start(c, path)
		if child == nil {
			return
		}
		top.n.keys = append(top.n.keys, top.key)
		top.n.fields[top.key] = child
	case objCommaOrEnd:
		switch c {
		case ',':
			top.state = objKey
		case '}':
			p.close()
		default:
			p.fail("expected ',' or '}', got %q", c)
		}
	case arrValueOrEnd, arrValue:
		if c == ']' {
			p.close()
			return
		}
		path := fmt.Sprintf("%s[%d]", top.path, len(top.n.items))
		top.state = arrCommaOrEnd
		child := p.start(c, path)
		if child == nil {
			return
		}
		top.n.items = append(top.n.items, child)
	case arrCommaOrEnd:
		switch c {
		case ',':
			top.state = arrValue
		case ']':
			p.close()
		default:
			p.fail("expected ',' or ']', got %q", c)
		}
	}
}

// start begins a value at path. It returns nil after recording a failure.
func (p *Parser) start(c byte, path string) *node {
	var n *node
	switch {
	case c == '{' || c == '[':
		n = p.open(c, path)
	case c == '"':
		n = &node{kind: kindString}
		p.str = &strDecoder{buf: &n.text}
	case c == '-' || (c >= '0' && c <= '9'):
		n = &node{kind: kindNumber}
		n.text.WriteByte(c)
	case c == 't' || c == 'f' || c == 'n':
		n = &node{kind: kindLiteral}
		n.text.WriteByte(c)
	default:
		p.fail("unexpected %q at %s", c, displayPath(path))
		return nil
	}
	if n.kind != kindObject && n.kind != kindArray {
		p.scalar, p.scalarPath = n, path
	}
	p.active = path
	return n
}

func (p *Parser) open(c byte, path string) *node {
	f := &frame{path: path}
	if c == '{' {
		f.n = &node{kind: kindObject, fields: make(map[string]*node)}
		f.state = objKeyOrEnd
	} else {
		f.n = &node{kind: kindArray, items: []*node{}}
		f.state = arrValueOrEnd
	}
	p.stack = append(p.stack, f)
	return f.n
}

func (p *Parser) close() {
	top := p.stack[len(p.stack)-1]
	top.n.done = true
	p.stack = p.stack[:len(p.stack)-1]
	p.complete(top.path)
	if len(p.stack) == 0 {
		p.done = true
	}
}

func (p *Parser) finishNumber() {
	text := p.scalar.text.String()
	if _, err := strconv.ParseFloat(text, 64); err != nil || !validNumber(text) {
		p.fail("invalid number %q", text)
		return
	}
	p.version++
	p.completeScalar()
}

func (p *Parser) completeScalar() {
	p.scalar.done = true
	p.complete(p.scalarPath)
	p.scalar, p.scalarPath, p.str = nil, "", nil
}

func (p *Parser) complete(path string) {
	if path == "" {
		return
	}
	if _, ok := p.seen[path]; ok {
		return
	}
	p.seen[path] = struct{}{}
	p.completed = append(p.completed, path)
}

func (n *node) value() any {
	switch n.kind {
	case kindObject:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			out[k] = n.fields[k].value()
		}
		return out
	case kindArray:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			out[i] = item.value()
		}
		return out
	case kindString:
		return trimPartialRune(n.text.String())
	case kindNumber:
		if !n.done {
			return nil
		}
		f, _ := strconv.ParseFloat(n.text.String(), 64)
		return f
	case kindLiteral:
		if !n.done {
			return nil
		}
		switch n.text.String() {
		case "true":
			return true
		case "false":
			return false
		}
		return nil
	}
	return nil
}

// strDecoder decodes the body of a JSON string one byte at a time.
type strDecoder struct {
	buf   *strings.Builder
	esc   bool
	inHex bool
	hex   []byte
	high  rune
}

func (d *strDecoder) feed(c byte) (closed bool, err error) {
	switch {
	case d.inHex:
		if !isHex(c) {
			return false, fmt.Errorf("invalid unicode escape byte %q", c)
		}
		d.hex = append(d.hex, c)
		if len(d.hex) == 4 {
			v, _ := strconv.ParseUint(string(d.hex), 16, 32)
			d.inHex = false
			d.rune(rune(v))
		}
		return false, nil
	case d.esc:
		d.esc = false
		var r byte
		switch c {
		case '"', '\\', '/':
			r = c
		case 'b':
			r = '\b'
		case 'f':
			r = '\f'
		case 'n':
			r = '\n'
		case 'r':
			r = '\r'
		case 't':
			r = '\t'
		case 'u':
			d.inHex, d.hex = true, d.hex[:0]
			return false, nil
		default:
			return false, fmt.Errorf("invalid escape %q", c)
		}
		d.flushHigh()
		d.buf.WriteByte(r)
		return false, nil
	case c == '\\':
		d.esc = true
		return false, nil
	case c == '"':
		d.flushHigh()
		return true, nil
	default:
		d.flushHigh()
		d.buf.WriteByte(c)
		return false, nil
	}
}

func (d *strDecoder) rune(r rune) {
	switch {
	case utf16.IsSurrogate(r) && r < 0xDC00:
		d.flushHigh()
		d.high = r
	case utf16.IsSurrogate(r) && d.high != 0:
		d.buf.WriteRune(utf16.DecodeRune(d.high, r))
		d.high = 0
	default:
		d.flushHigh()
		d.buf.WriteRune(r)
	}
}

func (d *strDecoder) flushHigh() {
	if d.high != 0 {
		d.buf.WriteRune(utf8.RuneError)
		d.high = 0
	}
}

func literalFor(prefix string) (string, bool) {
	for _, lit := range [...]string{"true", "false", "null"} {
		if strings.HasPrefix(lit, prefix) {
			return lit, true
		}
	}
	return "", false
}

// validNumber checks the JSON number grammar, which is stricter than ParseFloat.
func validNumber(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	if i >= len(s) {
		return false
	}
	if s[i] == '0' {
		i++
	} else if s[i] >= '1' && s[i] <= '9' {
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
	} else {
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return false
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return false
		}
	}
	return i == len(s)
}

func trimPartialRune(s string) string {
	for len(s) > 0 && !utf8.ValidString(s) {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
