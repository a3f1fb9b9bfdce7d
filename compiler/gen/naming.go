package gen

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	identifier     = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	indexedWord    = regexp.MustCompile(`(^|\s)indexed(\s|$)`)
	titler         = cases.Title(language.Und, cases.NoLower)
)

// typeName returns the generated type name for an ABI entry name.
func typeName(name string) string {
	return titler.String(name)
}

// memberName returns the accessor name for a parameter at position i.
// Unnamed parameters are called value<i>.
func memberName(name string, i int) string {
	switch {
	case name == "":
		return fmt.Sprintf("value%d", i)
	case identifier.MatchString(name):
		return name
	}
	if s := inflect.CamelizeDownFirst(strings.Map(func(r rune) rune {
		if r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return ' '
	}, name)); identifier.MatchString(s) {
		return s
	}
	return fmt.Sprintf("value%d", i)
}

// uniqueMembers renames members whose accessor names collide within one unit.
// A colliding name gets its position as suffix, or the next free number
// when that is taken too.
func uniqueMembers(names []string) []string {
	count := make(map[string]int, len(names))
	for _, n := range names {
		count[n]++
	}
	used := make(map[string]bool, len(names))
	for n, c := range count {
		if c == 1 {
			used[n] = true
		}
	}
	out := make([]string, len(names))
	for i, n := range names {
		if count[n] > 1 {
			k := i
			for used[fmt.Sprintf("%s%d", n, k)] {
				k++
			}
			n = fmt.Sprintf("%s%d", n, k)
			used[n] = true
		}
		out[i] = n
	}
	return out
}

// discriminator is derived from the keccak256 hash of a canonical signature:
// an underscore followed by the first four bytes in hex.
func discriminator(signature string) string {
	return "_" + hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

// topic0 returns the event topic hash for a canonical signature.
func topic0(signature string) string {
	return crypto.Keccak256Hash([]byte(signature)).Hex()
}

// NormalizeSignature strips the indexed keyword and whitespace from a
// handler signature so it compares equal to a canonical ABI signature.
func NormalizeSignature(sig string) string {
	return strings.ReplaceAll(MarkIndexed(sig), "indexed ", "")
}

// MarkIndexed normalizes a handler signature like NormalizeSignature but
// keeps indexed markers, written before the type. Both "indexed address" and
// "address indexed" are accepted.
func MarkIndexed(sig string) string {
	open, end := strings.IndexByte(sig, '('), strings.LastIndexByte(sig, ')')
	if open < 0 || end < open {
		return NormalizeSignature(sig)
	}
	var params []string
	depth, start := 0, open+1
	for i := open + 1; i <= end; i++ {
		switch c := sig[i]; {
		case c == '(':
			depth++
		case c == ')' && depth > 0:
			depth--
		case (c == ',' && depth == 0) || i == end:
			params = append(params, sig[start:i])
			start = i + 1
		}
	}
	for i, p := range params {
		prefix := ""
		if indexedWord.MatchString(p) {
			prefix = "indexed "
			p = indexedWord.ReplaceAllString(p, " ")
		}
		params[i] = prefix + strings.Join(strings.Fields(p), "")
	}
	if len(params) == 1 && params[0] == "" {
		params = nil
	}
	return strings.TrimSpace(sig[:open]) + "(" + strings.Join(params, ",") + ")"
}
