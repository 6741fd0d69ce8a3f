package rediff

import (
	"unicode"
	"unicode/utf8"

	"github.com/RuiFG/trywait/indicator"
	"github.com/pmezard/go-difflib/difflib"
)

type Kind byte

const (
	Replace Kind = 'r'
	Delete  Kind = 'd'
	Insert  Kind = 'i'
)

func (k Kind) String() string {
	switch k {
	case Replace:
		return "replace"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	default:
		return "unknown"
	}
}

// Fragment is a word-level difference, in byte offsets of the two sides.
type Fragment struct {
	Kind       Kind
	LeftStart  int
	LeftEnd    int
	RightStart int
	RightEnd   int
}

// checkEvery is how many opcodes are converted between cancellation checks.
const checkEvery = 64

// Compare computes word-level fragments between left and right.
func Compare(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
	if err := ind.CheckCanceled(); err != nil {
		return nil, err
	}
	leftTokens, rightTokens := tokenize(left), tokenize(right)
	leftOffsets, rightOffsets := offsets(leftTokens), offsets(rightTokens)

	opCodes := difflib.NewMatcher(leftTokens, rightTokens).GetOpCodes()
	if err := ind.CheckCanceled(); err != nil {
		return nil, err
	}

	var fragments []Fragment
	for i, op := range opCodes {
		if i%checkEvery == 0 {
			if err := ind.CheckCanceled(); err != nil {
				return nil, err
			}
		}
		if op.Tag == 'e' {
			continue
		}
		fragments = append(fragments, Fragment{
			Kind:       Kind(op.Tag),
			LeftStart:  leftOffsets[op.I1],
			LeftEnd:    leftOffsets[op.I2],
			RightStart: rightOffsets[op.J1],
			RightEnd:   rightOffsets[op.J2],
		})
	}
	return fragments, nil
}

// tokenize splits text into runs of word characters, runs of spaces and
// single punctuation runes. Concatenating the tokens gives back the text.
func tokenize(text string) []string {
	var tokens []string
	start := 0
	class := -1
	for i, r := range text {
		c := runeClass(r)
		if i > start && (c != class || c == punctClass) {
			tokens = append(tokens, text[start:i])
			start = i
		}
		class = c
	}
	if start < len(text) {
		tokens = append(tokens, text[start:])
	}
	return tokens
}

const (
	wordClass = iota
	spaceClass
	punctClass
)

func runeClass(r rune) int {
	switch {
	case r == utf8.RuneError:
		return punctClass
	case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
		return wordClass
	case unicode.IsSpace(r):
		return spaceClass
	default:
		return punctClass
	}
}

// offsets[i] is the byte offset where token i starts; the extra last entry is the total length.
func offsets(tokens []string) []int {
	result := make([]int, len(tokens)+1)
	for i, token := range tokens {
		result[i+1] = result[i] + len(token)
	}
	return result
}
