// Package textnorm canonicalizes raw prompt text into the single form every
// downstream scanning stage matches against. Keyword literals for the
// prefilter automaton are derived through the same pipeline at snapshot build
// time, so detection can never drift out of sync with request-time
// normalization.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Text holds a request's raw input alongside its canonical form.
type Text struct {
	Raw        string
	Normalized string
}

// invisibleRanges covers zero-width characters, bidi controls, variation
// selectors, and the Tags block, all used to hide instructions from
// pattern matchers while staying invisible to readers.
var invisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// confusableMap maps non-Latin characters that are visually identical to
// Latin letters. NFKC does not fold cross-script confusables (Cyrillic а
// U+0430 stays Cyrillic), so this mapping runs after NFKC.
var confusableMap = map[rune]rune{
	// Cyrillic uppercase
	'А': 'a', 'В': 'b', 'С': 'c', 'Е': 'e',
	'Н': 'h', 'І': 'i', 'Ј': 'j', 'К': 'k',
	'М': 'm', 'О': 'o', 'Р': 'p', 'Ѕ': 's',
	'Т': 't', 'Х': 'x',
	// Cyrillic lowercase
	'а': 'a', 'в': 'v', 'е': 'e', 'н': 'h',
	'і': 'i', 'к': 'k', 'м': 'm', 'о': 'o',
	'р': 'p', 'с': 'c', 'т': 't', 'у': 'y',
	'х': 'x', 'ј': 'j', 'ѕ': 's',
	// Greek uppercase
	'Α': 'a', 'Β': 'b', 'Ε': 'e', 'Ζ': 'z',
	'Η': 'h', 'Ι': 'i', 'Κ': 'k', 'Μ': 'm',
	'Ν': 'n', 'Ο': 'o', 'Ρ': 'p', 'Τ': 't',
	'Υ': 'y', 'Χ': 'x',
	// Greek lowercase
	'α': 'a', 'ε': 'e', 'ι': 'i', 'κ': 'k',
	'ν': 'v', 'ο': 'o',
	// Latin small capitals (survive NFKC)
	'ᴀ': 'a', 'ʙ': 'b', 'ᴄ': 'c', 'ᴅ': 'd',
	'ᴇ': 'e', 'ɢ': 'g', 'ʜ': 'h', 'ɪ': 'i',
	'ᴊ': 'j', 'ᴋ': 'k', 'ʟ': 'l', 'ᴍ': 'm',
	'ɴ': 'n', 'ᴏ': 'o', 'ᴘ': 'p', 'ʀ': 'r',
	'ᴛ': 't', 'ᴜ': 'u', 'ᴠ': 'v', 'ᴡ': 'w',
	'ʏ': 'y', 'ᴢ': 'z',
}

// leetMap maps common digit-for-letter substitutions used in injection
// evasion. Applied only inside letter context (see foldLeet) so that plain
// numbers like PESEL or card digits are left intact for the PII stages.
// '@' is deliberately absent: every email address flanks it with letters,
// and folding it would erase the address before PII recognition sees it.
var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't',
	'$': 's',
}

// Normalize canonicalizes raw input. The steps run in a fixed order:
// NFKC, confusable folding, leet-speak folding, invisible/control stripping,
// case folding, whitespace collapsing. The result is idempotent:
// Normalize(Normalize(x).Normalized).Normalized == Normalize(x).Normalized.
// Malformed UTF-8 is replaced with U+FFFD by the NFKC pass; normalization
// never fails.
func Normalize(raw string) Text {
	s := norm.NFKC.String(raw)
	s = foldConfusables(s)
	s = foldLeet(s)
	s = stripInvisible(s)
	s = strings.ToLower(s)
	s = collapseWhitespace(s)
	return Text{Raw: raw, Normalized: s}
}

func foldConfusables(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		return r
	}, s)
}

// foldLeet substitutes leet digits/symbols only when flanked by letters on
// at least one side, e.g. "1gn0re" folds but "2 1/4 cups" does not.
func foldLeet(s string) string {
	runes := []rune(s)
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = r
		sub, ok := leetMap[r]
		if !ok {
			continue
		}
		prevLetter := i > 0 && unicode.IsLetter(runes[i-1])
		nextLetter := i < len(runes)-1 && unicode.IsLetter(runes[i+1])
		if prevLetter || nextLetter {
			out[i] = sub
		}
	}
	return string(out)
}

// stripInvisible replaces control and invisible characters with spaces so
// word boundaries survive: "ignore​all" becomes "ignore all"
// (detectable) rather than "ignoreall" (bypass). Whitespace collapsing
// afterwards removes the extra spaces.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F) {
			return ' '
		}
		if unicode.Is(invisibleRanges, r) {
			return ' '
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
