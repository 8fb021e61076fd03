package index

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dl-alexandre/pullsync/internal/types"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
)

// Profile is a saved sync definition. Secrets are never stored here.
type Profile struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	BackendType    string            `json:"backendType"`
	BaseURI        string            `json:"baseUri"`
	Settings       map[string]string `json:"settings,omitempty"`
	RemoteRoot     string            `json:"remoteRoot"`
	LocalRoot      string            `json:"localRoot"`
	ExcludePattern string            `json:"excludePattern,omitempty"`
	Delete         bool              `json:"delete"`
	Concurrency    int               `json:"concurrency,omitempty"`
	CreatedAt      int64             `json:"createdAt"`
	LastSyncTime   int64             `json:"lastSyncTime,omitempty"`
}

// RunStatus is the overall result of a recorded run.
type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Run is one recorded sync pass.
type Run struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profileId"`
	StartedAt  int64     `json:"startedAt"`
	FinishedAt int64     `json:"finishedAt"`
	DryRun     bool      `json:"dryRun"`
	Status     RunStatus `json:"status"`
	Added      int       `json:"added"`
	Changed    int       `json:"changed"`
	Removed    int       `json:"removed"`
	Errors     int       `json:"errors"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// RunRecord is a persisted changeset record.
type RunRecord struct {
	RunID        string `json:"runId"`
	Kind         string `json:"kind"`
	RelativePath string `json:"relativePath"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
}

// ProfileList renders profiles as a table.
type ProfileList []Profile

func (l ProfileList) AsTableRenderer() types.TableRenderer {
	return &profileTable{profiles: l}
}

type profileTable struct {
	profiles []Profile
}

func (t *profileTable) Headers() []string {
	return []string{"Name", "Backend", "Remote", "Local", "Delete", "Last Sync"}
}

func (t *profileTable) Rows() [][]string {
	rows := make([][]string, len(t.profiles))
	for i, p := range t.profiles {
		remote := p.BaseURI
		if p.RemoteRoot != "" {
			remote = strings.TrimRight(remote, "/") + "/" + strings.TrimLeft(p.RemoteRoot, "/")
		}
		rows[i] = []string{p.Name, p.BackendType, remote, p.LocalRoot, strconv.FormatBool(p.Delete), formatTime(p.LastSyncTime)}
	}
	return rows
}

func (t *profileTable) EmptyMessage() string {
	return "No profiles configured"
}

// ProfileDetail renders a single profile as key/value rows.
type ProfileDetail Profile

func (p ProfileDetail) AsTableRenderer() types.TableRenderer {
	return &profileDetailTable{p: Profile(p)}
}

type profileDetailTable struct {
	p Profile
}

func (t *profileDetailTable) Headers() []string { return []string{"Field", "Value"} }

func (t *profileDetailTable) Rows() [][]string {
	rows := [][]string{
		{"ID", t.p.ID},
		{"Name", t.p.Name},
		{"Backend", t.p.BackendType},
		{"Base URI", t.p.BaseURI},
		{"Remote Root", t.p.RemoteRoot},
		{"Local Root", t.p.LocalRoot},
		{"Exclude", t.p.ExcludePattern},
		{"Delete", strconv.FormatBool(t.p.Delete)},
		{"Concurrency", strconv.Itoa(t.p.Concurrency)},
		{"Created", formatTime(t.p.CreatedAt)},
		{"Last Sync", formatTime(t.p.LastSyncTime)},
	}
	keys := make([]string, 0, len(t.p.Settings))
	for k := range t.p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{"setting." + k, t.p.Settings[k]})
	}
	return rows
}

func (t *profileDetailTable) EmptyMessage() string { return "" }

// RunList renders run history as a table.
type RunList []Run

func (l RunList) AsTableRenderer() types.TableRenderer {
	return &runTable{runs: l}
}

type runTable struct {
	runs []Run
}

func (t *runTable) Headers() []string {
	return []string{"Started", "Status", "Added", "Changed", "Removed", "Errors", "Transferred", "Duration", "Run ID"}
}

func (t *runTable) Rows() [][]string {
	rows := make([][]string, len(t.runs))
	for i, r := range t.runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		duration := time.Duration(max(r.FinishedAt-r.StartedAt, 0)) * time.Second
		rows[i] = []string{
			formatTime(r.StartedAt),
			status,
			strconv.Itoa(r.Added),
			strconv.Itoa(r.Changed),
			strconv.Itoa(r.Removed),
			strconv.Itoa(r.Errors),
			humanize.Bytes(uint64(max(r.Bytes, 0))),
			duration.String(),
			r.ID,
		}
	}
	return rows
}

func (t *runTable) EmptyMessage() string {
	return "No runs recorded"
}

// RunRecordList renders the records of one run.
type RunRecordList []RunRecord

func (l RunRecordList) AsTableRenderer() types.TableRenderer {
	return &runRecordTable{records: l}
}

type runRecordTable struct {
	records []RunRecord
}

func (t *runRecordTable) Headers() []string {
	return []string{"Kind", "Path", "Size", "Outcome", "Detail"}
}

func (t *runRecordTable) Rows() [][]string {
	rows := make([][]string, len(t.records))
	for i, r := range t.records {
		size := ""
		if r.Size > 0 {
			size = humanize.Bytes(uint64(r.Size))
		}
		rows[i] = []string{r.Kind, r.RelativePath, size, r.Outcome, r.Error}
	}
	return rows
}

func (t *runRecordTable) EmptyMessage() string {
	return "No changes recorded for this run"
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", time.Unix(ts, 0).Format(time.RFC3339), humanize.Time(time.Unix(ts, 0)))
}
