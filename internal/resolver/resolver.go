// Package resolver implements the token resolver (module G): given a
// market's two outcome tokens, it probes both sides' order books and picks
// whichever one the market currently prices higher as the entry ("YES")
// side, so every downstream filter and the execution bridge only ever
// reason about one asset per market.
package resolver

import (
	"marketbridge/internal/book"
	"marketbridge/internal/config"
	"marketbridge/pkg/types"
)

// Reason enumerates why a resolve attempt did or didn't produce a decision.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonHTTPFail      Reason = "resolve_http_fail"
	ReasonBookNotUsable Reason = "resolve_book_not_usable"
	ReasonMissingScore  Reason = "resolve_missing_score"
	ReasonTieScore      Reason = "resolve_tie_score"
)

// Decision is the resolver's output for one market.
type Decision struct {
	Resolved bool

	EntryToken string // asset ID to buy on a signal
	ExitToken  string // the complement, kept for reference/logging
	EntryName  string // outcome name backing the entry token

	// ComplementSum is best_ask/best_bid(yes) + best_ask/best_bid(no); a
	// healthy two-sided binary market keeps this near 1.0.
	ComplementSum  float64
	ComplementSane bool // true when ComplementSum falls in [0.90, 1.10]

	Reason Reason
}

// score returns a token's current best price for resolution purposes:
// best_ask when the book has one, else best_bid. A book with neither is not
// usable for scoring.
func score(pb types.ParsedBook) (float64, bool) {
	if pb.HasAsk {
		return pb.BestAsk, true
	}
	if pb.HasBid {
		return pb.BestBid, true
	}
	return 0, false
}

// bookUsable mirrors module C's book_not_usable classification: a book with
// no levels on either side can't be scored at all.
func bookUsable(pb types.ParsedBook) bool {
	return pb.HasBid || pb.HasAsk
}

// Resolve probes both of a market's token books and decides which side is
// the entry ("YES") side: strictly-higher score wins. Ties, missing scores,
// or an unusable book on either side leave the market unresolved with the
// matching Reason so the caller can retry next cycle.
func Resolve(tokenPair, outcomes [2]string, books [2]types.ParsedBook) Decision {
	if !bookUsable(books[0]) || !bookUsable(books[1]) {
		return Decision{Reason: ReasonBookNotUsable}
	}

	s0, ok0 := score(books[0])
	s1, ok1 := score(books[1])
	if !ok0 || !ok1 {
		return Decision{Reason: ReasonMissingScore}
	}
	if s0 == s1 {
		return Decision{Reason: ReasonTieScore}
	}

	entryIdx := 0
	if s1 > s0 {
		entryIdx = 1
	}
	sum := s0 + s1

	return Decision{
		Resolved:       true,
		EntryToken:     tokenPair[entryIdx],
		ExitToken:      tokenPair[1-entryIdx],
		EntryName:      outcomes[entryIdx],
		ComplementSum:  sum,
		ComplementSane: sum >= 0.90 && sum <= 1.10,
		Reason:         ReasonNone,
	}
}

// BooksFromMirror reads both of a market's token books from the streaming
// mirror, reporting false for a side that has never been seen.
func BooksFromMirror(mirror *book.Mirror, tokenPair [2]string) (books [2]types.ParsedBook, ok [2]bool) {
	books[0], ok[0] = mirror.Get(tokenPair[0])
	books[1], ok[1] = mirror.Get(tokenPair[1])
	return books, ok
}

// LeagueQuotaOK reports whether admitting one more market for this league
// would stay within its configured quota.
func LeagueQuotaOK(lg config.LeagueConfig, currentCount int) bool {
	if lg.Quota <= 0 {
		return true
	}
	return currentCount < lg.Quota
}

// ComplementPrice returns the implied price of the opposite side of a
// binary market, 1 - p.
func ComplementPrice(p float64) float64 {
	return 1 - p
}
