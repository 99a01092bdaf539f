package domain

// PairChannelID derives the channel id shared by two identities.
// The two ids are concatenated in lexicographic order, so both parties
// compute the same channel id independently, without any lookup.
func PairChannelID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + b
}
