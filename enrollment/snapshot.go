package enrollment

import (
	"time"

	"github.com/hupe1980/catid/matcher"
)

// snapshot is an immutable view of one scope. Writers build a new snapshot
// and swap it in; nothing reachable from a published snapshot is mutated.
type snapshot struct {
	scope    Scope
	exists   bool // a document was found in storage
	doc      *document
	refs     map[string][]Reference // cat uid -> loaded references
	cats     []Cat
	index    map[string]int
	bank     matcher.Bank
	loadedAt time.Time
}

func buildSnapshot(scope Scope, exists bool, doc *document, refs map[string][]Reference) *snapshot {
	s := &snapshot{
		scope:    scope,
		exists:   exists,
		doc:      doc,
		refs:     refs,
		cats:     make([]Cat, 0, len(doc.order)),
		index:    make(map[string]int, len(doc.order)),
		bank:     make(matcher.Bank, 0, len(doc.order)),
		loadedAt: time.Now(),
	}
	for _, uid := range doc.order {
		e := doc.entries[uid]
		c := Cat{
			UID:            uid,
			Name:           e.Name,
			Embeddings:     refs[uid],
			TrainingImages: e.TrainingImages,
			Profile:        e.Profile,
		}
		s.index[uid] = len(s.cats)
		s.cats = append(s.cats, c)
		s.bank = append(s.bank, matcher.BankEntry{CatUID: uid, Embeddings: c.Vectors()})
	}
	return s
}

func (s *snapshot) cat(uid string) (Cat, bool) {
	i, ok := s.index[uid]
	if !ok {
		return Cat{}, false
	}
	return s.cats[i], true
}

// hashes returns the content hashes already stored for uid.
func (s *snapshot) hashes(uid string) map[string]struct{} {
	out := make(map[string]struct{}, len(s.refs[uid]))
	for _, r := range s.refs[uid] {
		out[r.Hash] = struct{}{}
	}
	return out
}

// byLocator indexes loaded references for reuse across reloads; blobs are
// content-addressed and never rewritten.
func (s *snapshot) byLocator() map[string]Reference {
	if s == nil {
		return nil
	}
	out := make(map[string]Reference)
	for _, refs := range s.refs {
		for _, r := range refs {
			out[r.Locator] = r
		}
	}
	return out
}

func cloneRefs(in map[string][]Reference) map[string][]Reference {
	out := make(map[string][]Reference, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
