package cte

import (
	"strings"
	"unicode"
)

var rowColumns = map[string]bool{"id": true, "ord": true, "value": true}

// Qualify prefixes bare references to the row columns id, ord and value
// with table. String literals, quoted identifiers, names that are already
// qualified and names that follow AS are left alone.
func Qualify(expr, table string) string {
	var b strings.Builder
	b.Grow(len(expr) + 16)
	prevWord := ""
	runes := []rune(expr)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			j := skipQuoted(runes, i)
			b.WriteString(string(runes[i:j]))
			i = j
			prevWord = ""
		case isIdentStart(r):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			if rowColumns[word] && !qualified(runes, i) && !qualifier(runes, j) && !strings.EqualFold(prevWord, "AS") {
				b.WriteString(table)
				b.WriteByte('.')
			}
			b.WriteString(word)
			prevWord = word
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (isIdentPart(runes[j]) || runes[j] == '.') {
				j++
			}
			b.WriteString(string(runes[i:j]))
			prevWord = ""
			i = j
		default:
			b.WriteRune(r)
			if !unicode.IsSpace(r) {
				prevWord = ""
			}
			i++
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the quoted token starting at i.
// A doubled quote inside the token is an escaped quote.
func skipQuoted(runes []rune, i int) int {
	q := runes[i]
	j := i + 1
	for j < len(runes) {
		if runes[j] == q {
			if j+1 < len(runes) && runes[j+1] == q {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return j
}

// qualified reports whether the word starting at i follows a dot.
func qualified(runes []rune, i int) bool {
	for k := i - 1; k >= 0; k-- {
		if unicode.IsSpace(runes[k]) {
			continue
		}
		return runes[k] == '.'
	}
	return false
}

// qualifier reports whether the word ending at j is followed by a dot.
func qualifier(runes []rune, j int) bool {
	for k := j; k < len(runes); k++ {
		if unicode.IsSpace(runes[k]) {
			continue
		}
		return runes[k] == '.'
	}
	return false
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) }
