package enrollment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	gojson "github.com/goccy/go-json"
)

// entry is one cat in metadata.json. Locators are relative to the scope
// directory.
type entry struct {
	Name           string
	Embeddings     []string
	TrainingImages []string
	Profile        string
}

func (e *entry) clone() *entry {
	c := *e
	c.Embeddings = slices.Clone(e.Embeddings)
	c.TrainingImages = slices.Clone(e.TrainingImages)
	return &c
}

// document is metadata.json with its key order preserved.
type document struct {
	order   []string
	entries map[string]*entry
}

func newDocument() *document {
	return &document{entries: make(map[string]*entry)}
}

func (d *document) get(uid string) (*entry, bool) {
	e, ok := d.entries[uid]
	return e, ok
}

// put replaces or appends uid, keeping an existing key in place.
func (d *document) put(uid string, e *entry) {
	if _, ok := d.entries[uid]; !ok {
		d.order = append(d.order, uid)
	}
	d.entries[uid] = e
}

func (d *document) clone() *document {
	c := &document{
		order:   slices.Clone(d.order),
		entries: make(map[string]*entry, len(d.entries)),
	}
	for uid, e := range d.entries {
		c.entries[uid] = e.clone()
	}
	return c
}

type wireEntry struct {
	Name           string   `json:"name"`
	Embeddings     []string `json:"embeddings"`
	TrainingImages []string `json:"training_images"`
	Profile        *string  `json:"profile"`
}

// MarshalJSON writes entries in document order.
func (d *document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, uid := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := gojson.Marshal(uid)
		if err != nil {
			return nil, err
		}
		e := d.entries[uid]
		w := wireEntry{
			Name:           e.Name,
			Embeddings:     nonNil(e.Embeddings),
			TrainingImages: nonNil(e.TrainingImages),
		}
		if e.Profile != "" {
			w.Profile = &e.Profile
		}
		val, err := gojson.Marshal(w)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// UnmarshalJSON reads entries in file order. Besides the current shape it
// accepts a bare list of embedding locators and an "images" key in place of
// "training_images", both written by older tools.
func (d *document) UnmarshalJSON(data []byte) error {
	*d = *newDocument()

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		uid, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("metadata: cat %q: %w", uid, err)
		}
		e, err := parseEntry(uid, raw)
		if err != nil {
			return err
		}
		d.put(uid, e)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func parseEntry(uid string, raw json.RawMessage) (*entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("metadata: cat %q: empty value", uid)
	}

	switch raw[0] {
	case '[':
		var embeddings []string
		if err := gojson.Unmarshal(raw, &embeddings); err != nil {
			return nil, fmt.Errorf("metadata: cat %q: %w", uid, err)
		}
		return &entry{Name: uid, Embeddings: embeddings}, nil
	case '{':
		var w struct {
			Name           string    `json:"name"`
			Embeddings     []string  `json:"embeddings"`
			TrainingImages *[]string `json:"training_images"`
			Images         []string  `json:"images"`
			Profile        *string   `json:"profile"`
		}
		if err := gojson.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("metadata: cat %q: %w", uid, err)
		}
		e := &entry{Name: w.Name, Embeddings: w.Embeddings, TrainingImages: w.Images}
		if w.TrainingImages != nil {
			e.TrainingImages = *w.TrainingImages
		}
		if e.Name == "" {
			e.Name = uid
		}
		if w.Profile != nil {
			e.Profile = *w.Profile
		}
		return e, nil
	default:
		return nil, fmt.Errorf("metadata: cat %q: unsupported entry %s", uid, raw)
	}
}
