package pii

// Checksum validation for structured identifiers. All validators accept
// formatted input (hyphens, spaces) and work on the extracted digits; a
// wrong length or failing check digit returns false.

// nipWeights apply to the first 9 digits; the mod-11 sum must equal the
// 10th. A sum of 10 is invalid per the official specification, not 0.
var nipWeights = []int{6, 5, 7, 2, 3, 4, 5, 6, 7}

var regon9Weights = []int{8, 9, 2, 3, 4, 5, 6, 7}
var regon14Weights = []int{2, 4, 8, 5, 0, 9, 7, 3, 6, 1, 2, 4, 8}

// peselWeights apply to the first 10 digits; check digit is
// (10 - sum mod 10) mod 10.
var peselWeights = []int{1, 3, 7, 9, 1, 3, 7, 9, 1, 3}

func extractDigits(s string) []int {
	out := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}

func weightedMod11(digits []int, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	return sum % 11
}

// ValidNIP validates a Polish tax ID (10 digits).
func ValidNIP(s string) bool {
	digits := extractDigits(s)
	if len(digits) != 10 {
		return false
	}
	check := weightedMod11(digits, nipWeights)
	if check == 10 {
		return false
	}
	return check == digits[9]
}

// ValidREGON validates a Polish business ID in its 9- or 14-digit form.
func ValidREGON(s string) bool {
	digits := extractDigits(s)
	switch len(digits) {
	case 9:
		check := weightedMod11(digits, regon9Weights)
		return check != 10 && check == digits[8]
	case 14:
		check := weightedMod11(digits, regon14Weights)
		return check != 10 && check == digits[13]
	}
	return false
}

// ValidPESEL validates a Polish national ID (11 digits).
func ValidPESEL(s string) bool {
	digits := extractDigits(s)
	if len(digits) != 11 {
		return false
	}
	sum := 0
	for i, w := range peselWeights {
		sum += digits[i] * w
	}
	return (10-sum%10)%10 == digits[10]
}

// ValidLuhn validates a payment card number (13-19 digits, mod-10).
func ValidLuhn(s string) bool {
	digits := extractDigits(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	total := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		total += d
		double = !double
	}
	return total%10 == 0
}

// CardBrand identifies a card's issuer from its IIN prefix and length.
func CardBrand(s string) string {
	digits := extractDigits(s)
	n := len(digits)
	if n == 0 {
		return "UNKNOWN"
	}
	num := func(k int) int {
		v := 0
		for i := 0; i < k && i < n; i++ {
			v = v*10 + digits[i]
		}
		return v
	}
	switch {
	case digits[0] == 4 && (n == 13 || n == 16):
		return "VISA"
	case n == 16 && ((num(2) >= 51 && num(2) <= 55) || (num(4) >= 2221 && num(4) <= 2720)):
		return "MASTERCARD"
	case n == 15 && (num(2) == 34 || num(2) == 37):
		return "AMEX"
	case n == 16 && (num(4) == 6011 || (num(3) >= 644 && num(3) <= 649) || num(2) == 65):
		return "DISCOVER"
	case n == 16 && num(4) >= 3528 && num(4) <= 3589:
		return "JCB"
	case n == 14 && ((num(3) >= 300 && num(3) <= 305) || num(2) == 36 || num(2) == 38):
		return "DINERS"
	}
	return "UNKNOWN"
}

// validators maps structured entity types to their checksum check. Types
// absent here pass through unvalidated.
var validators = map[string]func(string) bool{
	TypeNIP:        ValidNIP,
	TypeREGON:      ValidREGON,
	TypePESEL:      ValidPESEL,
	TypeCreditCard: ValidLuhn,
}

// validatedScore is the floor a structured identifier's score is raised to
// once its checksum passes.
const validatedScore = 0.9

// ApplyChecksums drops structured-identifier candidates whose checksum
// fails and raises the confidence of the ones that pass. text is the same
// string the offsets index into.
func ApplyChecksums(text string, candidates []Entity) []Entity {
	out := candidates[:0]
	for _, e := range candidates {
		validate, structured := validators[e.Type]
		if !structured {
			out = append(out, e)
			continue
		}
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		if !validate(text[e.Start:e.End]) {
			continue
		}
		if e.Score < validatedScore {
			e.Score = validatedScore
		}
		out = append(out, e)
	}
	return out
}
