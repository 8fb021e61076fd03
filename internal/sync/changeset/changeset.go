// Package changeset collects the outcome of one synchronization pass.
package changeset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/dl-alexandre/pullsync/internal/types"
)

// Kind classifies a record.
type Kind int

const (
	// KindUnknown marks failures that happened before the entry could be classified.
	KindUnknown Kind = iota
	KindAdded
	KindChanged
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindAdded:
		return "added"
	case KindChanged:
		return "changed"
	case KindRemoved:
		return "removed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindUnknown, KindAdded, KindChanged, KindRemoved} {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown change kind %q", s)
}

// Outcome says whether the mutation behind a record was applied.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case OutcomeOK.String():
		*o = OutcomeOK
	case OutcomeError.String():
		*o = OutcomeError
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// ErrorDetail describes why an entry failed.
type ErrorDetail struct {
	Operation  string `json:"operation"`
	RemotePath string `json:"remotePath,omitempty"`
	Message    string `json:"message"`
	err        error
}

// NewErrorDetail captures err for the given operation.
func NewErrorDetail(operation, remotePath string, err error) *ErrorDetail {
	d := &ErrorDetail{Operation: operation, RemotePath: remotePath, err: err}
	if err != nil {
		d.Message = err.Error()
	}
	return d
}

func (d *ErrorDetail) Error() string {
	if d.RemotePath == "" {
		return fmt.Sprintf("%s: %s", d.Operation, d.Message)
	}
	return fmt.Sprintf("%s %q: %s", d.Operation, d.RemotePath, d.Message)
}

func (d *ErrorDetail) Unwrap() error {
	return d.err
}

// Record is one observed or applied change.
type Record struct {
	ID           string       `json:"id"`
	Kind         Kind         `json:"kind"`
	Path         string       `json:"path"`
	RelativePath string       `json:"relativePath"`
	Size         int64        `json:"size"`
	Outcome      Outcome      `json:"outcome"`
	Detail       *ErrorDetail `json:"error,omitempty"`
}

// Failed reports whether the record carries an error outcome.
func (r Record) Failed() bool {
	return r.Outcome == OutcomeError
}

// ChangeSet groups records by kind. Appends are safe for concurrent use; once the
// pass returns it belongs to the caller.
type ChangeSet struct {
	mu sync.Mutex

	DryRun  bool     `json:"dryRun"`
	Added   []Record `json:"added"`
	Changed []Record `json:"changed"`
	Removed []Record `json:"removed"`
	// Failed holds records whose kind could not be determined.
	Failed []Record `json:"failed"`
}

// New returns an empty ChangeSet.
func New() *ChangeSet {
	return &ChangeSet{
		Added:   []Record{},
		Changed: []Record{},
		Removed: []Record{},
		Failed:  []Record{},
	}
}

// Add appends r to the sequence for its kind.
func (c *ChangeSet) Add(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r.Kind {
	case KindAdded:
		c.Added = append(c.Added, r)
	case KindChanged:
		c.Changed = append(c.Changed, r)
	case KindRemoved:
		c.Removed = append(c.Removed, r)
	default:
		c.Failed = append(c.Failed, r)
	}
}

// HasChanges reports whether any entry was added, changed or removed.
func (c *ChangeSet) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Added) > 0 || len(c.Changed) > 0 || len(c.Removed) > 0
}

// Errors returns every record with an error outcome, in sequence order.
func (c *ChangeSet) Errors() []Record {
	var out []Record
	for _, r := range c.Records() {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// HasErrors reports whether any entry failed.
func (c *ChangeSet) HasErrors() bool {
	return len(c.Errors()) > 0
}

// Records returns all records: added, changed, removed, then failed.
func (c *ChangeSet) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.Added)+len(c.Changed)+len(c.Removed)+len(c.Failed))
	out = append(out, c.Added...)
	out = append(out, c.Changed...)
	out = append(out, c.Removed...)
	return append(out, c.Failed...)
}

// Sort orders every sequence by relative path.
func (c *ChangeSet) Sort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seq := range [][]Record{c.Added, c.Changed, c.Removed, c.Failed} {
		sort.SliceStable(seq, func(i, j int) bool {
			return seq[i].RelativePath < seq[j].RelativePath
		})
	}
}

// Summary counts records per kind.
type Summary struct {
	Added   int   `json:"added"`
	Changed int   `json:"changed"`
	Removed int   `json:"removed"`
	Failed  int   `json:"failed"`
	Errors  int   `json:"errors"`
	Bytes   int64 `json:"bytes"`
}

func (c *ChangeSet) Summary() Summary {
	s := Summary{}
	for _, r := range c.Records() {
		switch r.Kind {
		case KindAdded:
			s.Added++
		case KindChanged:
			s.Changed++
		case KindRemoved:
			s.Removed++
		default:
			s.Failed++
		}
		if r.Failed() {
			s.Errors++
			continue
		}
		if r.Kind == KindAdded || r.Kind == KindChanged {
			s.Bytes += r.Size
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d added, %d changed, %d removed, %d errors, %s transferred",
		s.Added, s.Changed, s.Removed, s.Errors, humanize.Bytes(uint64(max(s.Bytes, 0))))
}

// AsTableRenderer implements types.TableRenderable.
func (c *ChangeSet) AsTableRenderer() types.TableRenderer {
	return &changeSetTable{records: c.Records(), dryRun: c.DryRun}
}

type changeSetTable struct {
	records []Record
	dryRun  bool
}

func (t *changeSetTable) Headers() []string {
	return []string{"Kind", "Path", "Size", "Outcome", "Detail"}
}

func (t *changeSetTable) Rows() [][]string {
	rows := make([][]string, len(t.records))
	for i, r := range t.records {
		size := ""
		if r.Kind == KindAdded || r.Kind == KindChanged {
			size = humanize.Bytes(uint64(max(r.Size, 0)))
		}
		outcome := r.Outcome.String()
		if t.dryRun && !r.Failed() {
			outcome = "planned"
		}
		detail := ""
		if r.Detail != nil {
			detail = r.Detail.Error()
		}
		rows[i] = []string{r.Kind.String(), r.RelativePath, size, outcome, detail}
	}
	return rows
}

func (t *changeSetTable) EmptyMessage() string {
	return "Already up to date"
}
