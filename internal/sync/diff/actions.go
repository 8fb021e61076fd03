// Package diff decides what a one-way pull has to do for a single remote entry.
package diff

import (
	"errors"
	"fmt"
	"os"

	"github.com/dl-alexandre/pullsync/internal/storage"
)

// Action is the closed set of per-entry decisions.
type Action int

const (
	ActionNone Action = iota
	// ActionMkdir creates a missing local directory. It is never recorded as a change.
	ActionMkdir
	// ActionAdd downloads a file that does not exist locally.
	ActionAdd
	// ActionUpdate downloads a file whose local copy is stale.
	ActionUpdate
	// ActionSkip ignores an entry kind that has no local counterpart.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMkdir:
		return "mkdir"
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionSkip:
		return "skip"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// LocalState is what exists at a destination path.
type LocalState struct {
	Exists    bool
	IsDir     bool
	IsRegular bool
	Size      int64
	ModTime   int64
}

// StatLocal inspects p without following a final symlink. A missing path is not an error.
func StatLocal(p string) (LocalState, error) {
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LocalState{}, nil
		}
		return LocalState{}, err
	}
	return LocalState{
		Exists:    true,
		IsDir:     info.IsDir(),
		IsRegular: info.Mode().IsRegular(),
		Size:      info.Size(),
		ModTime:   info.ModTime().Unix(),
	}, nil
}

// Classify returns the action for remote given the local state of its destination.
func Classify(remote storage.Entry, local LocalState) Action {
	if !local.Exists {
		switch remote.Kind {
		case storage.KindDirectory:
			return ActionMkdir
		case storage.KindFile:
			return ActionAdd
		default:
			return ActionSkip
		}
	}
	if HasChanged(remote, local) {
		return ActionUpdate
	}
	return ActionNone
}

// HasChanged reports whether a remote file differs from an existing local regular file.
// Only files can change: sizes differ, or the remote copy is strictly newer.
func HasChanged(remote storage.Entry, local LocalState) bool {
	if remote.Kind != storage.KindFile || !local.Exists || !local.IsRegular {
		return false
	}
	return remote.Size != local.Size || remote.ModifiedAt > local.ModTime
}
