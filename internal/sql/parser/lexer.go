package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

// token is a lexeme with its byte range in the source; expression text is
// cut from the source by range, not rebuilt from tokens.
type token struct {
	kind       tokenKind
	text       string
	start, end int
}

func (t token) is(word string) bool {
	return (t.kind == tokIdent || t.kind == tokPunct) && strings.EqualFold(t.text, word)
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of statement"
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits src into tokens. Strings are '...' (with '' as escape) or
// "..."; any other non-space rune is a one-rune punctuation token.
func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w

		case r == '_' || unicode.IsLetter(r):
			j := i + w
			for j < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[j:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += w2
			}
			out = append(out, token{kind: tokIdent, text: src[i:j], start: i, end: j})
			i = j

		case unicode.IsDigit(r):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			out = append(out, token{kind: tokNumber, text: src[i:j], start: i, end: j})
			i = j

		case r == '\'' || r == '"':
			j, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: src[i:j], start: i, end: j})
			i = j

		default:
			out = append(out, token{kind: tokPunct, text: src[i : i+w], start: i, end: i + w})
			i += w
		}
	}
	out = append(out, token{kind: tokEOF, start: len(src), end: len(src)})
	return out, nil
}

// scanString returns the end of the quoted string starting at i.
func scanString(src string, i int) (int, error) {
	q := src[i]
	for j := i + 1; j < len(src); j++ {
		switch {
		case src[j] == '\\' && q == '"':
			j++
		case src[j] == q:
			if q == '\'' && j+1 < len(src) && src[j+1] == '\'' {
				j++
				continue
			}
			return j + 1, nil
		}
	}
	return 0, fmt.Errorf("unterminated string at offset %d", i)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
