// Package gdrive serves a Google Drive folder as a RemoteStorage. Paths are resolved
// folder by folder from a root folder ID.
package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/pkg/version"
)

const (
	mimeTypeFolder       = "application/vnd.google-apps.folder"
	mimeTypeGooglePrefix = "application/vnd.google-apps."
	fileFields           = "id,name,mimeType,size,modifiedTime"
	defaultRootID        = "root"
)

// Config selects the service account and root folder.
type Config struct {
	CredentialsFile string
	CredentialsJSON []byte
	RootFolderID    string
	Impersonate     string
	// Transport, when set, carries every Drive request under the OAuth token source.
	Transport http.RoundTripper
}

type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

type node struct {
	id       string
	mimeType string
	size     int64
	modified string
}

func (n node) kind() storage.EntryKind {
	switch {
	case n.mimeType == mimeTypeFolder:
		return storage.KindDirectory
	case strings.HasPrefix(n.mimeType, mimeTypeGooglePrefix):
		// Docs, Sheets and shortcuts have no binary content to download.
		return storage.KindOther
	default:
		return storage.KindFile
	}
}

// Storage is a Drive v3 backed RemoteStorage.
type Storage struct {
	svc    *drive.Service
	rootID string

	mu    sync.Mutex
	nodes map[string]node
}

// New authenticates with a service account key and builds a read-only Drive client.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	keyData := cfg.CredentialsJSON
	if len(keyData) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, storage.Unavailable("auth", "", errors.New("service account key file required"))
		}
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, storage.Unavailable("auth", cfg.CredentialsFile, fmt.Errorf("failed to read service account key: %w", err))
		}
		keyData = data
	}
	if err := validateKey(keyData); err != nil {
		return nil, storage.Unavailable("auth", cfg.CredentialsFile, err)
	}
	if cfg.Impersonate != "" && !strings.Contains(cfg.Impersonate, "@") {
		return nil, storage.Unavailable("auth", "", errors.New("impersonate user must be an email address"))
	}

	creds, err := google.CredentialsFromJSONWithParams(ctx, keyData, google.CredentialsParams{
		Scopes:  []string{drive.DriveReadonlyScope},
		Subject: cfg.Impersonate,
	})
	if err != nil {
		return nil, storage.Unavailable("auth", "", fmt.Errorf("failed to parse service account key: %w", err))
	}
	opt := option.WithCredentials(creds)
	if cfg.Transport != nil {
		base := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: cfg.Transport})
		opt = option.WithHTTPClient(oauth2.NewClient(base, creds.TokenSource))
	}
	svc, err := drive.NewService(ctx, opt, option.WithUserAgent(version.UserAgent()))
	if err != nil {
		return nil, storage.Unavailable("connect", "", err)
	}
	return NewWithService(svc, cfg.RootFolderID), nil
}

// NewWithService wraps an existing Drive client. An empty rootID means "My Drive".
func NewWithService(svc *drive.Service, rootID string) *Storage {
	if rootID == "" {
		rootID = defaultRootID
	}
	return &Storage{
		svc:    svc,
		rootID: rootID,
		nodes:  map[string]node{"": {id: rootID, mimeType: mimeTypeFolder}},
	}
}

func validateKey(data []byte) error {
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse service account key: %w", err)
	}
	if key.Type != "service_account" {
		return fmt.Errorf("invalid service account key type: %s", key.Type)
	}
	if key.ClientEmail == "" {
		return errors.New("missing client_email in service account key")
	}
	if key.PrivateKey == "" {
		return errors.New("missing private_key in service account key")
	}
	return nil
}

func (s *Storage) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	root := storage.JoinPath(p)
	rootNode, err := s.resolve(ctx, root)
	if err != nil {
		return nil, storage.Unavailable("list", p, err)
	}
	if rootNode.kind() != storage.KindDirectory {
		return nil, storage.Unavailable("list", p, errors.New("not a folder"))
	}

	type pending struct {
		id   string
		path string
	}
	var entries []storage.Entry
	queue := []pending{{id: rootNode.id, path: root}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := s.listChildren(ctx, current.id, "")
		if err != nil {
			return nil, storage.Unavailable("list", current.path, err)
		}
		for _, f := range children {
			rel := storage.JoinPath(current.path, f.Name)
			n := toNode(f)
			s.remember(rel, n)

			entry := storage.Entry{Path: rel, Kind: n.kind(), ModifiedAt: parseTime(n.modified)}
			if entry.Kind == storage.KindFile {
				entry.Size = n.size
			}
			entries = append(entries, entry)
			if entry.Kind == storage.KindDirectory {
				queue = append(queue, pending{id: n.id, path: rel})
			}
		}
	}
	return entries, nil
}

func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.resolve(ctx, storage.JoinPath(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Storage) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	n, err := s.resolve(ctx, storage.JoinPath(p))
	if err != nil {
		return nil, err
	}
	if n.kind() != storage.KindFile {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
	}
	resp, err := s.svc.Files.Get(n.id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, translateError(p, err)
	}
	return resp.Body, nil
}

func (s *Storage) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	n, err := s.resolve(ctx, storage.JoinPath(p))
	if err != nil {
		return 0, false, err
	}
	ts := parseTime(n.modified)
	return ts, ts != 0, nil
}

// resolve walks p one segment at a time, reusing nodes learned from earlier listings.
func (s *Storage) resolve(ctx context.Context, p string) (node, error) {
	if n, ok := s.lookup(p); ok {
		return n, nil
	}
	parentPath := path.Dir(p)
	if parentPath == "." {
		parentPath = ""
	}
	parent, err := s.resolve(ctx, parentPath)
	if err != nil {
		return node{}, err
	}
	if parent.kind() != storage.KindDirectory {
		return node{}, fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	}
	matches, err := s.listChildren(ctx, parent.id, path.Base(p))
	if err != nil {
		return node{}, translateError(p, err)
	}
	if len(matches) == 0 {
		return node{}, fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	}
	// Drive allows duplicate names in a folder; the first match wins.
	n := toNode(matches[0])
	s.remember(p, n)
	return n, nil
}

func (s *Storage) lookup(p string) (node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	return n, ok
}

func (s *Storage) remember(p string, n node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[p] = n
}

func (s *Storage) listChildren(ctx context.Context, parentID, name string) ([]*drive.File, error) {
	query := "'" + escapeQuery(parentID) + "' in parents and trashed = false"
	if name != "" {
		query += " and name = '" + escapeQuery(name) + "'"
	}
	call := s.svc.Files.List().
		Q(query).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		OrderBy("name").
		Fields(googleapi.Field("nextPageToken,files(" + fileFields + ")"))

	var results []*drive.File
	for {
		list, err := call.Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, translateError(parentID, err)
		}
		results = append(results, list.Files...)
		if list.NextPageToken == "" {
			break
		}
		call = call.PageToken(list.NextPageToken)
	}
	return results, nil
}

func toNode(f *drive.File) node {
	return node{id: f.Id, mimeType: f.MimeType, size: f.Size, modified: f.ModifiedTime}
}

func parseTime(value string) int64 {
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func escapeQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

func translateError(p string, err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrBackendUnavailable) ||
		errors.Is(err, storage.ErrPermissionDenied) {
		return err
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return storage.Unavailable("request", p, err)
	}
	switch apiErr.Code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	case http.StatusForbidden:
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "userRateLimitExceeded", "rateLimitExceeded":
				return storage.Transient("request", p, err)
			case "dailyLimitExceeded":
				return storage.Unavailable("request", p, err)
			}
		}
		return fmt.Errorf("%w: %q: %w", storage.ErrPermissionDenied, p, err)
	default:
		if storage.IsTransientStatus(apiErr.Code) {
			return storage.Transient("request", p, err)
		}
		return storage.Unavailable("request", p, err)
	}
}
