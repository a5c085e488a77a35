// Package layer activates composite storage constructs — md-RAID, LVM, and
// ZFS — idempotently and read-only, before volume enumeration runs. Failure
// of any layer is non-fatal: it is logged as a warning and the volumes that
// would have come from it simply never appear.
//
// Adapted from the internal/utils/shell Executor pattern: every
// step shells out to the standard Linux storage tools (mdadm, vgchange,
// zpool) through the uniform shellexec.Executor, never via a shell string.
package layer

import (
	"context"
	"strings"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/shellexec"
)

var log = logging.Logger()

// Config controls which layers are activated; each is independently
// skippable.
type Config struct {
	EnableMDRAID bool
	EnableLVM    bool
	EnableZFS    bool
}

// Assembler drives layer activation.
type Assembler struct {
	Exec shellexec.Executor
}

func NewAssembler(exec shellexec.Executor) *Assembler {
	return &Assembler{Exec: exec}
}

// Activate runs every enabled layer step and collects non-fatal warnings.
func (a *Assembler) Activate(ctx context.Context, cfg Config) []*model.LayerError {
	var warnings []*model.LayerError

	if cfg.EnableMDRAID {
		if err := a.assembleMDRAID(ctx); err != nil {
			warnings = append(warnings, err)
		}
	}
	if cfg.EnableLVM {
		if err := a.activateLVM(ctx); err != nil {
			warnings = append(warnings, err)
		}
	}
	if cfg.EnableZFS {
		if err := a.importZFS(ctx); err != nil {
			warnings = append(warnings, err)
		}
	}

	return warnings
}

// assembleMDRAID assembles all md arrays read-only. A no-op if arrays are
// already active (mdadm --assemble --scan reports "already active" on
// stderr in that case, which is not treated as a warning).
func (a *Assembler) assembleMDRAID(ctx context.Context) *model.LayerError {
	res, err := a.Exec.Run(ctx, shellexec.Request{
		Argv: []string{"mdadm", "--assemble", "--scan", "--readonly"},
	})
	if err != nil {
		if alreadyActive(res.Stderr) {
			return nil
		}
		log.Warnw("md-RAID assembly failed", "error", err)
		return &model.LayerError{Layer: "md-raid", Cause: err}
	}
	return nil
}

// activateLVM scans and activates volume groups; the resulting logical
// volumes must be read-only, hence the "-ay" activation combined with a
// kernel-enforced read-only device-mapper table via "--readonly".
func (a *Assembler) activateLVM(ctx context.Context) *model.LayerError {
	if _, err := a.Exec.Run(ctx, shellexec.Request{Argv: []string{"vgscan", "--mknodes"}}); err != nil {
		log.Warnw("vgscan failed", "error", err)
		return &model.LayerError{Layer: "lvm", Cause: err}
	}
	if _, err := a.Exec.Run(ctx, shellexec.Request{
		Argv: []string{"vgchange", "-ay", "--readonly"},
	}); err != nil {
		log.Warnw("LVM activation failed", "error", err)
		return &model.LayerError{Layer: "lvm", Cause: err}
	}
	return nil
}

// importZFS imports all pools read-only, without mounting on import.
func (a *Assembler) importZFS(ctx context.Context) *model.LayerError {
	res, err := a.Exec.Run(ctx, shellexec.Request{
		Argv: []string{"zpool", "import", "-a", "-o", "readonly=on", "-N"},
	})
	if err != nil {
		if alreadyActive(res.Stderr) {
			return nil
		}
		log.Warnw("ZFS pool import failed", "error", err)
		return &model.LayerError{Layer: "zfs", Cause: err}
	}
	return nil
}

func alreadyActive(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "already") || strings.Contains(lower, "no pools available to import")
}
