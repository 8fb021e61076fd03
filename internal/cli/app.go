package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/pullsync/internal/config"
	"github.com/dl-alexandre/pullsync/internal/credentials"
	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/storage/factory"
	"github.com/dl-alexandre/pullsync/internal/storage/retry"
	syncengine "github.com/dl-alexandre/pullsync/internal/sync"
	"github.com/dl-alexandre/pullsync/internal/sync/index"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

// session bundles what a command needs to reach profiles, secrets and backends.
type session struct {
	cfg       *config.Config
	configDir string
	db        *index.DB
	logger    logging.Logger
	creds     *credentials.Manager
}

func openSession(ctx context.Context, log logging.Logger) (*session, error) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	db, err := index.Open(config.IndexPath(configDir))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &session{cfg: appConfig, configDir: configDir, db: db, logger: log}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// credentials opens the credential store on first use.
func (s *session) credentials() (*credentials.Manager, error) {
	if s.creds != nil {
		return s.creds, nil
	}
	mode, err := credentials.ParseMode(s.cfg.CredentialStore)
	if err != nil {
		return nil, err
	}
	mgr, err := credentials.NewManager(s.configDir, mode)
	if err != nil {
		return nil, err
	}
	if w := mgr.Warning(); w != "" {
		s.logger.Debug(w, logging.F("store", mgr.Backend()))
	}
	s.creds = mgr
	return mgr, nil
}

// profile loads name, mapping a miss onto PROFILE_NOT_FOUND.
func (s *session) profile(ctx context.Context, name string) (*index.Profile, error) {
	p, err := s.db.GetProfile(ctx, name)
	if errors.Is(err, index.ErrProfileNotFound) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeProfileNotFound,
			fmt.Sprintf("profile '%s' not found", name)).
			WithContext("profile", name).Build())
	}
	return p, err
}

// backend builds the storage of p with its secrets merged back in. The returned
// release func closes backends that hold resources.
func (s *session) backend(ctx context.Context, p *index.Profile) (storage.RemoteStorage, func(), error) {
	settings := p.Settings
	if needsSecrets(p.Settings) {
		mgr, err := s.credentials()
		if err != nil {
			return nil, nil, err
		}
		secrets, err := mgr.LoadSecrets(p.Name)
		if err != nil {
			return nil, nil, err
		}
		settings = credentials.Merge(p.Settings, secrets)
	}
	return buildBackend(ctx, p.BackendType, p.BaseURI, settings)
}

// needsSecrets reports whether the profile was saved with secrets split out.
func needsSecrets(settings map[string]string) bool {
	return settings[secretsMarker] == "true"
}

// secretsMarker is stored in place of the secrets themselves.
const secretsMarker = "hasSecrets"

func buildBackend(ctx context.Context, backendType, baseURI string, settings map[string]string) (storage.RemoteStorage, func(), error) {
	bt, err := factory.ParseBackendType(backendType)
	if err != nil {
		return nil, nil, err
	}
	fs := factory.Settings{}
	for k, v := range settings {
		if k != secretsMarker {
			fs[k] = v
		}
	}
	if fs.Get(factory.SettingTimeout) == "" && appConfig.RequestTimeout > 0 {
		fs[factory.SettingTimeout] = strconv.Itoa(appConfig.RequestTimeout)
	}
	var opts []factory.Option
	if debugTransport != nil {
		opts = append(opts, factory.WithTransport(debugTransport))
	}
	backend, err := factory.New(ctx, bt, baseURI, fs, opts...)
	if err != nil {
		return nil, nil, err
	}
	store := withRetry(backend)
	return store, func() {
		if c, ok := store.(storage.Closer); ok {
			_ = c.Close()
		}
	}, nil
}

// withRetry wraps backend in the retry decorator when maxRetries is positive.
func withRetry(backend storage.RemoteStorage) storage.RemoteStorage {
	if appConfig.MaxRetries <= 0 {
		return backend
	}
	return retry.Wrap(backend, retry.Config{
		MaxRetries: appConfig.MaxRetries,
		BaseDelay:  appConfig.GetRetryBaseDelay(),
		MaxDelay:   time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}, logger)
}

func newEngine(store storage.RemoteStorage, log logging.Logger) *syncengine.Engine {
	return syncengine.NewEngine(store, log, syncengine.Options{Concurrency: appConfig.DefaultConcurrency})
}

// parseSettings turns repeated key=value flags into a map.
func parseSettings(pairs []string) (map[string]string, error) {
	settings := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("invalid setting %q, expected key=value", pair)).Build())
		}
		settings[key] = value
	}
	return settings, nil
}

// checkConcurrency bounds a worker count from a flag; zero means the default.
func checkConcurrency(n int) error {
	if n < 0 || n > utils.MaxConcurrency {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("concurrency must be between 1 and %d", utils.MaxConcurrency)).Build())
	}
	return nil
}
