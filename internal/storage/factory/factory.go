// Package factory builds RemoteStorage backends from a type tag and settings.
package factory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/storage/gdrive"
	"github.com/dl-alexandre/pullsync/internal/storage/local"
	"github.com/dl-alexandre/pullsync/internal/storage/s3"
	"github.com/dl-alexandre/pullsync/internal/storage/webdav"
)

// BackendType tags a backend implementation.
type BackendType string

const (
	BackendLocal  BackendType = "local"
	BackendMemory BackendType = "memory"
	BackendWebDAV BackendType = "webdav"
	BackendS3     BackendType = "s3"
	BackendGDrive BackendType = "gdrive"
)

// Setting keys understood by New.
const (
	SettingURI             = "uri"
	SettingPrefix          = "prefix"
	SettingUsername        = "username"
	SettingPassword        = "password"
	SettingTimeout         = "timeout"
	SettingBucket          = "bucket"
	SettingAccessKey       = "accessKey"
	SettingSecretKey       = "secretKey"
	SettingRegion          = "region"
	SettingSecure          = "secure"
	SettingCredentialsFile = "credentialsFile"
	SettingRootFolderID    = "rootFolderId"
	SettingImpersonate     = "impersonate"
)

// SecretSettings lists the keys that must never be persisted in plain text.
var SecretSettings = []string{SettingPassword, SettingSecretKey}

// Option adjusts how network backends are built.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport routes every HTTP request of a network backend through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// Settings are backend specific string options.
type Settings map[string]string

// Get returns the first non-empty value among keys.
func (s Settings) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(s[k]); v != "" {
			return v
		}
	}
	return ""
}

// Types returns every supported backend type.
func Types() []BackendType {
	return []BackendType{BackendLocal, BackendMemory, BackendWebDAV, BackendS3, BackendGDrive}
}

// ParseBackendType maps a tag onto a BackendType, case-insensitively.
func ParseBackendType(tag string) (BackendType, error) {
	normalized := BackendType(strings.ToLower(strings.TrimSpace(tag)))
	for _, t := range Types() {
		if t == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", storage.ErrUnknownBackendType, tag)
}

// New builds the backend for backendType. baseURI is the directory, server URI,
// endpoint or root folder ID depending on the type.
//
//nolint:ireturn // callers only need the capability.
func New(ctx context.Context, backendType BackendType, baseURI string, settings Settings, opts ...Option) (storage.RemoteStorage, error) {
	if settings == nil {
		settings = Settings{}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch backendType {
	case BackendLocal:
		dir := baseURI
		if dir == "" {
			dir = settings.Get(SettingURI)
		}
		if prefix := settings.Get(SettingPrefix); prefix != "" {
			dir = strings.TrimRight(dir, "/\\") + "/" + strings.Trim(prefix, "/\\")
		}
		return wrap(local.New(dir))
	case BackendMemory:
		return local.NewMemory(), nil
	case BackendWebDAV:
		timeout, err := parseDuration(settings.Get(SettingTimeout))
		if err != nil {
			return nil, err
		}
		return wrap(webdav.New(webdav.Config{
			URI:       firstNonEmpty(baseURI, settings.Get(SettingURI)),
			Prefix:    settings.Get(SettingPrefix),
			Username:  settings.Get(SettingUsername),
			Password:  settings.Get(SettingPassword),
			Timeout:   timeout,
			Transport: o.transport,
		}))
	case BackendS3:
		secure := true
		if raw := settings.Get(SettingSecure); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, storage.Unavailable("configure", SettingSecure, err)
			}
			secure = v
		}
		return wrap(s3.New(s3.Config{
			Endpoint:  firstNonEmpty(baseURI, settings.Get(SettingURI)),
			Bucket:    settings.Get(SettingBucket),
			Prefix:    settings.Get(SettingPrefix),
			AccessKey: settings.Get(SettingAccessKey, SettingUsername),
			SecretKey: settings.Get(SettingSecretKey, SettingPassword),
			Region:    settings.Get(SettingRegion),
			Secure:    secure,
			Transport: o.transport,
		}))
	case BackendGDrive:
		return wrap(gdrive.New(ctx, gdrive.Config{
			CredentialsFile: settings.Get(SettingCredentialsFile),
			RootFolderID:    firstNonEmpty(baseURI, settings.Get(SettingRootFolderID)),
			Impersonate:     settings.Get(SettingImpersonate),
			Transport:       o.transport,
		}))
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackendType, string(backendType))
	}
}

// wrap keeps a failed constructor's typed nil pointer out of the interface.
//
//nolint:ireturn
func wrap[T storage.RemoteStorage](backend T, err error) (storage.RemoteStorage, error) {
	if err != nil {
		return nil, err
	}
	return backend, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, storage.Unavailable("configure", SettingTimeout, err)
	}
	return d, nil
}
