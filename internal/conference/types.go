package conference

import (
	"fmt"
	"strings"
)

// Rank carries the ranking labels published for a conference.
//
// The remote YAML uses either a plain string or a {ccf, core, thcpl} map.
type Rank struct {
	CCF   string `json:"ccf,omitempty" yaml:"ccf"`
	CORE  string `json:"core,omitempty" yaml:"core"`
	THCPL string `json:"thcpl,omitempty" yaml:"thcpl"`
}

func (r Rank) IsZero() bool { return r == Rank{} }

func (r Rank) String() string {
	parts := make([]string, 0, 3)
	if r.CCF != "" {
		parts = append(parts, "CCF "+r.CCF)
	}
	if r.CORE != "" {
		parts = append(parts, "CORE "+r.CORE)
	}
	if r.THCPL != "" {
		parts = append(parts, "THCPL "+r.THCPL)
	}
	return strings.Join(parts, ", ")
}

// TimelineItem is a named intermediate deadline (rebuttal, camera-ready...).
type TimelineItem struct {
	Name     string `json:"name"`
	Deadline string `json:"deadline"`
}

// Instance is one edition of a conference.
type Instance struct {
	Year             int            `json:"year"`
	InstanceID       string         `json:"id,omitempty"`
	Date             string         `json:"date"`
	Place            string         `json:"place"`
	AbstractDeadline string         `json:"abstractDeadline,omitempty"`
	Deadline         string         `json:"deadline"`
	Link             string         `json:"link,omitempty"`
	Timezone         string         `json:"timezone,omitempty"`
	Timeline         []TimelineItem `json:"timeline,omitempty"`
}

// Record is a conference definition as fetched from the remote source.
// Records are immutable for a given cache generation.
type Record struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Rank        *Rank      `json:"rank,omitempty"`
	DBLPKey     string     `json:"dblp,omitempty"`
	Instances   []Instance `json:"years"`
}

// Latest returns the instance with the highest year.
func (r Record) Latest() (Instance, bool) {
	if len(r.Instances) == 0 {
		return Instance{}, false
	}
	best := r.Instances[0]
	for _, in := range r.Instances[1:] {
		if in.Year > best.Year {
			best = in
		}
	}
	return best, true
}

// Find returns the instance for the given year.
func (r Record) Find(year int) (Instance, bool) {
	for _, in := range r.Instances {
		if in.Year == year {
			return in, true
		}
	}
	return Instance{}, false
}

// Subscription identifies one subscribed conference instance.
type Subscription struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Year     int    `json:"year"`
	Deadline string `json:"deadline"`
	Date     string `json:"date"`
	Place    string `json:"place,omitempty"`
}

// SubscriptionID derives the subscription id for an instance:
// the instance id when present, otherwise "{title}-{year}".
func SubscriptionID(title string, in Instance) string {
	if id := strings.TrimSpace(in.InstanceID); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", title, in.Year)
}

// NewSubscription builds the subscription for one instance of rec.
func NewSubscription(rec Record, in Instance) Subscription {
	return Subscription{
		ID:       SubscriptionID(rec.Title, in),
		Title:    rec.Title,
		Year:     in.Year,
		Deadline: in.Deadline,
		Date:     in.Date,
		Place:    in.Place,
	}
}

// Lookup finds a record/instance pair for a subscription id.
func Lookup(records []Record, id string) (Record, Instance, bool) {
	for _, rec := range records {
		for _, in := range rec.Instances {
			if SubscriptionID(rec.Title, in) == id {
				return rec, in, true
			}
		}
	}
	return Record{}, Instance{}, false
}

// FindByTitle matches a record title case-insensitively.
func FindByTitle(records []Record, title string) (Record, bool) {
	title = strings.TrimSpace(title)
	for _, rec := range records {
		if strings.EqualFold(rec.Title, title) {
			return rec, true
		}
	}
	return Record{}, false
}

// Search returns records whose title, description or category contains q.
// An empty query returns all records.
func Search(records []Record, q string) []Record {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Title), q) ||
			strings.Contains(strings.ToLower(rec.Description), q) ||
			strings.Contains(strings.ToLower(rec.Category), q) {
			out = append(out, rec)
		}
	}
	return out
}
