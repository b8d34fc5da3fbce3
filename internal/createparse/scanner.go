package createparse

import (
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokIdent
	tokString
	tokGroup
	tokPunct
)

// token is a lexical unit of a creation script. For quoted identifiers and
// strings text holds the unescaped value, for groups the raw text between
// the parentheses.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// is reports whether t is an unquoted keyword equal to word
func (t token) is(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

// name returns the identifier value of a word or quoted identifier
func (t token) name() (string, bool) {
	if t.kind == tokWord || t.kind == tokIdent {
		return t.text, true
	}
	return "", false
}

func closingQuote(c byte) (byte, bool) {
	switch c {
	case '`', '"':
		return c, true
	case '[':
		return ']', true
	}
	return 0, false
}

// readQuoted reads a quoted run starting at s[i] (the opening quote).
// A doubled closing quote is an escaped quote except for brackets.
func readQuoted(s string, i int, closing byte) (string, int) {
	var b strings.Builder
	doubling := closing != ']'
	for j := i + 1; j < len(s); j++ {
		if s[j] == closing {
			if doubling && j+1 < len(s) && s[j+1] == closing {
				b.WriteByte(closing)
				j++
				continue
			}
			return b.String(), j + 1
		}
		b.WriteByte(s[j])
	}
	return b.String(), len(s)
}

// matchParen returns the offset just past the parenthesis closing the one
// at s[i], skipping quoted runs.
func matchParen(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		c := s[j]
		if c == '\'' {
			_, next := readQuoted(s, j, '\'')
			j = next - 1
			continue
		}
		if q, ok := closingQuote(c); ok {
			_, next := readQuoted(s, j, q)
			j = next - 1
			continue
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(s)
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// scan splits s into tokens. Parenthesised runs become a single group token.
func scan(s string) []token {
	var tokens []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '\'':
			text, next := readQuoted(s, i, '\'')
			tokens = append(tokens, token{kind: tokString, text: text, start: i, end: next})
			i = next
		case c == '(':
			next := matchParen(s, i)
			inner := s[i+1 : max(i+1, next-1)]
			tokens = append(tokens, token{kind: tokGroup, text: inner, start: i, end: next})
			i = next
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokWord, text: s[i:j], start: i, end: j})
			i = j
		default:
			if q, ok := closingQuote(c); ok {
				text, next := readQuoted(s, i, q)
				tokens = append(tokens, token{kind: tokIdent, text: text, start: i, end: next})
				i = next
				continue
			}
			tokens = append(tokens, token{kind: tokPunct, text: string(c), start: i, end: i + 1})
			i++
		}
	}
	return tokens
}

// splitTopLevel splits s on commas that are outside quotes and parentheses
func splitTopLevel(s string) []string {
	var parts []string
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			_, next := readQuoted(s, i, '\'')
			i = next - 1
		case c == '(':
			i = matchParen(s, i) - 1
		case c == ',':
			parts = append(parts, s[last:i])
			last = i + 1
		default:
			if q, ok := closingQuote(c); ok {
				_, next := readQuoted(s, i, q)
				i = next - 1
			}
		}
	}
	if rest := strings.TrimSpace(s[last:]); rest != "" || len(parts) > 0 {
		parts = append(parts, s[last:])
	}
	return parts
}
