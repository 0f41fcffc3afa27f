package enrollsync

import "fmt"

// Failure is one image that was skipped.
type Failure struct {
	Key    string
	Reason string // "fetch", "decode" or "embed"
	Err    error
}

// CatReport is the outcome for one cat.
type CatReport struct {
	Processed  int // samples handed to Register
	Skipped    int
	Duplicates int
	Failures   []Failure
	// Err is set when the cat could not be registered.
	Err error
}

func (c *CatReport) skip(key, reason string, err error) {
	c.Skipped++
	c.Failures = append(c.Failures, Failure{Key: key, Reason: reason, Err: err})
}

// Report is the outcome of one sync.
type Report struct {
	UserID   string
	DeviceID string
	Cats     map[string]*CatReport
	// Order lists cat uids in processing order.
	Order []string
}

// Totals sums a report.
type Totals struct {
	Cats       int
	Processed  int
	Skipped    int
	Duplicates int
	Failed     int
}

// Totals sums all cats.
func (r Report) Totals() Totals {
	t := Totals{Cats: len(r.Order)}
	for _, uid := range r.Order {
		c := r.Cats[uid]
		t.Processed += c.Processed
		t.Skipped += c.Skipped
		t.Duplicates += c.Duplicates
		if c.Err != nil {
			t.Failed++
		}
	}
	return t
}

// Failed returns the uids of cats whose registration failed.
func (r Report) Failed() []string {
	var out []string
	for _, uid := range r.Order {
		if r.Cats[uid].Err != nil {
			out = append(out, uid)
		}
	}
	return out
}

func (r Report) String() string {
	t := r.Totals()
	return fmt.Sprintf("user=%s device=%s cats=%d processed=%d skipped=%d duplicates=%d failed=%d",
		r.UserID, r.DeviceID, t.Cats, t.Processed, t.Skipped, t.Duplicates, t.Failed)
}
