// Package template compiles and renders the log line format string.
//
// Grounded on the shape of the original template module (a token scanner
// producing a slice of literal/placeholder pieces rendered in order),
// but redesigned so an unknown placeholder is a compile-time
// validation error rather than a pass-through literal, and a placeholder
// may carry a `:>N` right-align width modifier.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scality/logcourier-engine/pkg/record"
)

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenTimestamp
	tokenLevel
	tokenTarget
	tokenMessage
	tokenFile
	tokenLine
	tokenThreadID
)

type token struct {
	kind    tokenKind
	literal string
	width   int // 0 means no width modifier
}

var placeholderNames = map[string]tokenKind{
	"timestamp": tokenTimestamp,
	"level":     tokenLevel,
	"target":    tokenTarget,
	"message":   tokenMessage,
	"file":      tokenFile,
	"line":      tokenLine,
	"thread_id": tokenThreadID,
}

// Compiled is a parsed, validated format string. It is immutable and
// safe to share across every worker goroutine.
type Compiled struct {
	tokens []token
	source string
}

// Compile parses and validates a template string. Every placeholder
// must name a known LogRecord field; an unrecognised token is a
// validation error raised here, not at render time.
func Compile(format string) (*Compiled, error) {
	toks, err := parse(format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format %q: %w", format, err)
	}
	return &Compiled{tokens: toks, source: format}, nil
}

// Default is "{timestamp} [{level}] {target} - {message}", matching the
// original engine's default format.
func Default() *Compiled {
	c, err := Compile("{timestamp} [{level}] {target} - {message}")
	if err != nil {
		panic("template: default format failed to compile: " + err.Error())
	}
	return c
}

// String returns the original source format string.
func (c *Compiled) String() string { return c.source }

func parse(format string) ([]token, error) {
	var tokens []token
	var literal strings.Builder

	flush := func() {
		if literal.Len() > 0 {
			tokens = append(tokens, token{kind: tokenLiteral, literal: literal.String()})
			literal.Reset()
		}
	}

	runes := []rune(format)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		switch ch {
		case '{':
			// "{{" is an escaped literal brace.
			if i+1 < len(runes) && runes[i+1] == '{' {
				literal.WriteByte('{')
				i += 2
				continue
			}
			end := indexRune(runes, i+1, '}')
			if end == -1 {
				return nil, fmt.Errorf("unterminated placeholder starting at position %d", i)
			}
			body := string(runes[i+1 : end])
			tok, err := parsePlaceholder(body)
			if err != nil {
				return nil, err
			}
			flush()
			tokens = append(tokens, tok)
			i = end + 1
		case '}':
			if i+1 < len(runes) && runes[i+1] == '}' {
				literal.WriteByte('}')
				i += 2
				continue
			}
			literal.WriteRune(ch)
			i++
		default:
			literal.WriteRune(ch)
			i++
		}
	}
	flush()
	return tokens, nil
}

func indexRune(runes []rune, start int, target rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

// parsePlaceholder parses the body of a "{...}" token, e.g. "level" or
// "level:>5".
func parsePlaceholder(body string) (token, error) {
	name := body
	width := 0

	if idx := strings.IndexByte(body, ':'); idx != -1 {
		name = body[:idx]
		spec := body[idx+1:]
		spec = strings.TrimPrefix(spec, ">")
		n, err := strconv.Atoi(spec)
		if err != nil {
			return token{}, fmt.Errorf("invalid width modifier %q in placeholder {%s}", spec, body)
		}
		width = n
	}

	name = strings.TrimSpace(strings.ToLower(name))
	kind, ok := placeholderNames[name]
	if !ok {
		return token{}, fmt.Errorf("unknown placeholder {%s}: not a LogRecord field", body)
	}
	return token{kind: kind, width: width}, nil
}

// Render produces the formatted line for a record. Absent {file}/{line}
// render as empty string, never the literal "None".
func (c *Compiled) Render(r record.LogRecord) string {
	var buf strings.Builder
	for _, tok := range c.tokens {
		var s string
		switch tok.kind {
		case tokenLiteral:
			s = tok.literal
		case tokenTimestamp:
			s = r.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
		case tokenLevel:
			s = r.Level.String()
		case tokenTarget:
			s = r.Target
		case tokenMessage:
			s = r.Message
		case tokenFile:
			s = r.File
		case tokenLine:
			if r.HasLine {
				s = strconv.FormatUint(uint64(r.Line), 10)
			}
		case tokenThreadID:
			s = r.ThreadID
		}
		if tok.width > 0 && len(s) < tok.width {
			s = strings.Repeat(" ", tok.width-len(s)) + s
		}
		buf.WriteString(s)
	}
	return buf.String()
}
