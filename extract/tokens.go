package extract

// NumericTokens scans text for isolated numeric identifiers of 10 to 13
// digits. A digit run only counts when it is not adjacent to another
// digit on either side, so a longer number is never truncated into a
// false match. The result is a set in first-seen order.
func NumericTokens(text string) []string {
	var tokens []string
	seen := make(map[string]struct{})

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		// Maximal digit runs have non-digit boundaries by construction;
		// only the length filter remains.
		if n := end - start; n >= 10 && n <= 13 {
			tok := text[start:end]
			if _, dup := seen[tok]; !dup {
				seen[tok] = struct{}{}
				tokens = append(tokens, tok)
			}
		}
		start = -1
	}

	for i := 0; i < len(text); i++ {
		if text[i] >= '0' && text[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))

	return tokens
}
