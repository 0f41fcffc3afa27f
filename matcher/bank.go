package matcher

import "github.com/hupe1980/catid/embedding"

// BankEntry holds one cat's reference embeddings.
type BankEntry struct {
	CatUID     string
	Embeddings []embedding.Embedding
}

// Bank is the ordered set of cats used for one matching operation. Order is
// significant: it decides ties.
type Bank []BankEntry

// Matchable reports whether at least one cat has a reference embedding.
func (b Bank) Matchable() bool {
	for _, e := range b {
		if len(e.Embeddings) > 0 {
			return true
		}
	}
	return false
}

// CatUIDs returns the cat UIDs in bank order.
func (b Bank) CatUIDs() []string {
	uids := make([]string, len(b))
	for i, e := range b {
		uids[i] = e.CatUID
	}
	return uids
}

// Get returns the entry for uid.
func (b Bank) Get(uid string) (BankEntry, bool) {
	for _, e := range b {
		if e.CatUID == uid {
			return e, true
		}
	}
	return BankEntry{}, false
}

// Clone returns a copy of b whose entries and vectors can be modified
// without affecting b.
func (b Bank) Clone() Bank {
	if b == nil {
		return nil
	}
	out := make(Bank, len(b))
	for i, e := range b {
		out[i] = BankEntry{CatUID: e.CatUID, Embeddings: make([]embedding.Embedding, len(e.Embeddings))}
		for j, v := range e.Embeddings {
			out[i].Embeddings[j] = v.Clone()
		}
	}
	return out
}

// View returns a copy of b's entries that shares the vectors. Appending to
// or reslicing an entry of the view leaves b untouched.
func (b Bank) View() Bank {
	if b == nil {
		return nil
	}
	out := make(Bank, len(b))
	for i, e := range b {
		out[i] = BankEntry{CatUID: e.CatUID, Embeddings: append([]embedding.Embedding(nil), e.Embeddings...)}
	}
	return out
}
