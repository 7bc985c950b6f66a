package datfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokOpen
	tokClose
)

type token struct {
	kind  tokenKind
	value string
	line  int
}

type lexer struct {
	r    *bufio.Reader
	line int
}

func newLexer(r io.Reader) *lexer {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &lexer{r: br, line: 1}
}

func (l *lexer) next() (token, error) {
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			return token{kind: tokEOF, line: l.line}, nil
		}
		if err != nil {
			return token{}, err
		}
		switch {
		case ch == '\n':
			l.line++
		case ch == '\ufeff' || unicode.IsSpace(ch):
		case ch == '(':
			return token{kind: tokOpen, line: l.line}, nil
		case ch == ')':
			return token{kind: tokClose, line: l.line}, nil
		case ch == '"':
			return l.quoted()
		default:
			return l.word(ch)
		}
	}
}

func (l *lexer) quoted() (token, error) {
	start := l.line
	var b strings.Builder
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			return token{}, fmt.Errorf("line %d: unterminated string", start)
		}
		if err != nil {
			return token{}, err
		}
		switch ch {
		case '"':
			return token{kind: tokWord, value: b.String(), line: start}, nil
		case '\n':
			l.line++
		}
		b.WriteRune(ch)
	}
}

func (l *lexer) word(first rune) (token, error) {
	var b strings.Builder
	b.WriteRune(first)
	for {
		ch, _, err := l.r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return token{}, err
		}
		if unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '"' {
			_ = l.r.UnreadRune()
			break
		}
		b.WriteRune(ch)
	}
	return token{kind: tokWord, value: b.String(), line: l.line}, nil
}

// block is a parsed key/value group; nested groups are kept per key in order.
type block struct {
	line   int
	values map[string]string
	blocks map[string][]block
}

func (b block) value(key string) string {
	return b.values[key]
}

// readBlock reads key/value pairs up to the matching close paren.
func (l *lexer) readBlock(line int) (block, error) {
	b := block{line: line, values: map[string]string{}, blocks: map[string][]block{}}
	for {
		tok, err := l.next()
		if err != nil {
			return b, err
		}
		switch tok.kind {
		case tokEOF:
			return b, fmt.Errorf("line %d: unterminated block", line)
		case tokClose:
			return b, nil
		case tokOpen:
			return b, fmt.Errorf("line %d: unexpected '('", tok.line)
		}
		key := strings.ToLower(tok.value)
		val, err := l.next()
		if err != nil {
			return b, err
		}
		switch val.kind {
		case tokOpen:
			child, err := l.readBlock(val.line)
			if err != nil {
				return b, err
			}
			b.blocks[key] = append(b.blocks[key], child)
		case tokWord:
			if _, exists := b.values[key]; !exists {
				b.values[key] = val.value
			}
		case tokClose:
			// Bare flag such as "flags" with no value before the close.
			b.values[key] = ""
			return b, nil
		default:
			return b, fmt.Errorf("line %d: missing value for %q", tok.line, key)
		}
	}
}

func parseClrMamePro(r io.Reader, source string, summary *Summary, emit EmitFunc, onHeader []HeaderFunc) error {
	lex := newLexer(r)
	for {
		tok, err := lex.next()
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		if tok.kind == tokEOF {
			return nil
		}
		if tok.kind != tokWord {
			return fmt.Errorf("%s: line %d: expected block name", source, tok.line)
		}
		open, err := lex.next()
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		if open.kind != tokOpen {
			return fmt.Errorf("%s: line %d: expected '(' after %q", source, open.line, tok.value)
		}
		b, err := lex.readBlock(tok.line)
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}

		switch strings.ToLower(tok.value) {
		case "clrmamepro":
			summary.Header = Header{Name: b.value("name"), Description: b.value("description"), Version: b.value("version")}
			notifyHeader(summary.Header, onHeader)
		case "game", "machine", "resource":
			if err := emitBlock(b, source, summary, emit); err != nil {
				return err
			}
		}
	}
}

func emitBlock(game block, source string, summary *Summary, emit EmitFunc) error {
	for _, rom := range game.blocks["rom"] {
		status := rom.value("flags")
		if status == "" {
			status = rom.value("status")
		}
		if strings.EqualFold(status, StatusNoDump) {
			summary.Skipped++
			continue
		}
		rec, reason := buildRecord(game.value("name"), rom.value("name"), rom.value("size"),
			rom.value("crc"), rom.value("md5"), rom.value("sha1"), rom.value("sha256"), status)
		if reason != "" {
			summary.reject(source, rom.line, rec.ItemName, reason)
			continue
		}
		rec.Line = rom.line
		summary.Records++
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}
