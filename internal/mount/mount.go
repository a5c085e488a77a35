// Package mount acquires a scoped, read-only mount per a per-fstype
// mount-recipe table. Every recipe except apfs (mounted with "readonly"
// alone) includes read-only plus nodev,nosuid,noexec; filesystems that
// require an external helper (ntfs-3g, apfs-fuse, mount.hfsplus) fail with
// MountError{helper_missing} when that helper is absent, and the
// orchestrator records the volume failed with that reason rather than
// retrying.
//
// Adapted from the internal/utils/shell Executor usage and from the
// direct-syscall mount pattern from other_examples (mount_linux.go): here
// every mount still goes through shellexec so it shares dry-run and
// logging with the rest of the pipeline, matching the executor's "all
// downstream components use only this executor" rule.
package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/shellexec"
)

var log = logging.Logger()

// Manager acquires and releases mounts under a managed scratch root.
type Manager struct {
	Exec shellexec.Executor
	Root string // managed root under which scratch mountpoints are created
}

func NewManager(exec shellexec.Executor, root string) *Manager {
	return &Manager{Exec: exec, Root: root}
}

// Acquire mounts source (fstype) read-only under a fresh scratch
// mountpoint beneath m.Root. No retry on failure: the volume is failed.
func (m *Manager) Acquire(ctx context.Context, source, fstype, archiveBase string) (*model.Mount, error) {
	r, ok := recipeFor(fstype)
	if !ok {
		return nil, &model.MountError{Kind: model.MountRefused, Detail: fmt.Sprintf("no mount recipe for fstype %q", fstype)}
	}

	if r.helper != "" {
		if _, err := m.Exec.Run(ctx, shellexec.Request{Argv: []string{"which", r.helper}}); err != nil {
			return nil, &model.MountError{Kind: model.MountHelperMissing, Detail: r.helper, Cause: err}
		}
	}

	mountpoint := filepath.Join(m.Root, archiveBase)
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, &model.MountError{Kind: model.MountRefused, Detail: "creating scratch mountpoint", Cause: err}
	}
	empty, err := isEmptyDir(mountpoint)
	if err != nil {
		return nil, &model.MountError{Kind: model.MountRefused, Detail: "checking scratch mountpoint", Cause: err}
	}
	if !empty {
		return nil, &model.MountError{Kind: model.MountRefused, Detail: "scratch mountpoint not empty: " + mountpoint}
	}

	argv := []string{"mount", "-t", r.mountType, "-o", r.options, source, mountpoint}
	if _, err := m.Exec.Run(ctx, shellexec.Request{Argv: argv}); err != nil {
		_ = os.Remove(mountpoint)
		return nil, &model.MountError{Kind: model.MountRefused, Detail: source, Cause: err}
	}
	// Only the real executor actually invokes /bin/mount; dry-run and test
	// doubles report success without attaching anything, so the device-id
	// check below would misfire against them.
	if _, isReal := m.Exec.(*shellexec.DefaultExecutor); isReal {
		if verr := verifyMounted(mountpoint); verr != nil {
			_ = os.Remove(mountpoint)
			return nil, &model.MountError{Kind: model.MountRefused, Detail: "mount did not take effect on " + mountpoint, Cause: verr}
		}
	}

	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		if _, err := m.Exec.Run(context.Background(), shellexec.Request{Argv: []string{"umount", mountpoint}}); err != nil {
			log.Errorw("unmount failed", "mountpoint", mountpoint, "error", err)
			return err
		}
		if err := os.RemoveAll(mountpoint); err != nil {
			log.Warnw("removing scratch mountpoint failed", "mountpoint", mountpoint, "error", err)
		}
		return nil
	}

	log.Infow("mounted", "source", source, "mountpoint", mountpoint, "fstype", fstype, "options", r.options)
	return model.NewMount(mountpoint, source, fstype, r.options, release), nil
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// verifyMounted confirms mountpoint's device ID differs from its parent
// directory's — the standard is-this-a-mountpoint check — catching a
// mount command that exited zero without actually attaching a filesystem.
func verifyMounted(mountpoint string) error {
	var st, parentSt unix.Stat_t
	if err := unix.Stat(mountpoint, &st); err != nil {
		return fmt.Errorf("stat mountpoint: %w", err)
	}
	if err := unix.Stat(filepath.Dir(mountpoint), &parentSt); err != nil {
		return fmt.Errorf("stat mountpoint parent: %w", err)
	}
	if st.Dev == parentSt.Dev {
		return fmt.Errorf("mountpoint device id unchanged from parent")
	}
	return nil
}
