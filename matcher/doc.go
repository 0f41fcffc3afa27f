// Package matcher resolves a query embedding against a bank of enrolled cats.
//
// Each cat's candidate score is the maximum cosine similarity between the query
// and any of its reference embeddings. The best candidate wins, using strict
// greater-than while walking the bank in order, so that of two cats with equal
// scores the one listed first is chosen. A candidate is accepted when its score
// is at least the threshold; the score is reported either way.
//
//	m, _ := matcher.New(0.8)
//	res, err := m.Identify(query, bank)
//	if res.Matched {
//	    fmt.Println(res.CatUID, res.Score)
//	}
package matcher
