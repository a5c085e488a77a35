// Package volume turns a device topology snapshot into the ordered,
// filtered candidate list: a pure function of
// topology + config + overrides, applying the seven-step filter order
// deterministically and scheduling survivors largest-first.
package volume

import (
	"sort"
	"time"

	"github.com/coldcapture/coldcapture/internal/config"
	"github.com/coldcapture/coldcapture/internal/device"
	"github.com/coldcapture/coldcapture/internal/model"
)

// Overrides carries the CLI's --only / --exclude-dev restrictions.
type Overrides struct {
	Only       map[string]bool
	ExcludeDev map[string]bool
}

// Enumerate applies the inspection-failure -> boot-exclusion -> avoid-list ->
// fstype allow/deny -> encryption -> size-threshold -> LVM/RAID-disallowed
// filter chain in order, returning every candidate device as either
// selected or skipped with a reason.
func Enumerate(topology []*model.Device, cfg *config.Config, boot device.BootExclusionSet, ov Overrides, token string, now time.Time) []model.Volume {
	avoid := toSet(cfg.Discovery.DeviceAvoidList)
	include := toSet(cfg.Discovery.IncludeFSTypes)
	skip := toSet(cfg.Discovery.SkipFSTypes)

	var volumes []model.Volume
	diskOrdinal := -1
	partOrdinal := make(map[string]int) // parent path -> next partition ordinal

	for _, d := range topology {
		if d.Kind == model.KindDisk {
			diskOrdinal++
		}

		v := model.Volume{
			DevicePath: d.Path,
			FSType:     d.FSType,
			SizeBytes:  d.SizeBytes,
			FromLVM:    d.FromLVM,
			FromRAID:   d.FromRAID,
			Encrypted:  d.IsEncrypted(),
		}

		if len(ov.ExcludeDev) > 0 && ov.ExcludeDev[d.Path] {
			v.Status, v.SkipReason = model.StatusSkipped, model.SkipAvoided
			volumes = append(volumes, v)
			continue
		}
		if len(ov.Only) > 0 && !ov.Only[d.Path] {
			v.Status, v.SkipReason = model.StatusSkipped, model.SkipAvoided
			volumes = append(volumes, v)
			continue
		}

		// Whole-disk and md-RAID-kind devices are only exempt from
		// candidacy when they carry no directly-declared filesystem of
		// their own (i.e. partitions or sub-volumes are where the real
		// content lives). An unpartitioned array or whole-disk
		// filesystem still needs to be captured.
		if (d.Kind == model.KindDisk || d.Kind == model.KindMD) && d.FSType == "" {
			continue
		}

		diskIdx := diskOrdinal
		if diskIdx < 0 {
			diskIdx = 0
		}
		parentKey := d.ParentPath
		partIdx := partOrdinal[parentKey]
		partOrdinal[parentKey] = partIdx + 1
		v.DiskIndex = diskIdx
		v.PartIndex = partIdx

		v.Status, v.SkipReason = classify(d, cfg, boot, avoid, include, skip)
		volumes = append(volumes, v)
	}

	// Filter order step 1 uses the caller-supplied boot set + avoid list,
	// already applied in classify(); assign archive base names to all
	// volumes (selected or not, so --list can render a name for everything).
	names := make([]string, len(volumes))
	for i, v := range volumes {
		names[i] = RenderName(cfg.Naming.Pattern, cfg.Naming.DateFmt, token, v.DiskIndex, v.PartIndex, now)
	}
	names = Dedupe(names)
	for i := range volumes {
		volumes[i].ArchiveBase = names[i]
	}

	sortLargestFirst(volumes)
	return volumes
}

func classify(d *model.Device, cfg *config.Config, boot device.BootExclusionSet, avoid, include, skip map[string]bool) (model.VolumeStatus, model.SkipReason) {
	// 0. inspection failure: a signature probe error must never leave a
	// device looking unencrypted by default. This check runs ahead of
	// every other step.
	if d.InspectionFailed {
		return model.StatusSkipped, model.SkipInspectionFailed
	}

	// 1. boot-exclusion / avoid list
	if boot.Contains(d.Path) || boot.Contains(d.ParentPath) {
		return model.StatusSkipped, model.SkipBoot
	}
	if avoid[d.Path] {
		return model.StatusSkipped, model.SkipAvoided
	}

	// 2. explicit skip_fstypes
	if d.FSType != "" && skip[d.FSType] {
		return model.StatusSkipped, model.SkipFSTypeBlocked
	}

	// 3. not in include_fstypes (only enforced when fstype is declared and
	// include list is non-empty; an empty include list means "no allow-list
	// restriction"), applied as an additive default-deny avoidance list.
	if d.FSType != "" && len(include) > 0 && !include[d.FSType] {
		return model.StatusSkipped, model.SkipFSTypeUnsupported
	}

	// 4. encrypted
	if d.IsEncrypted() && cfg.Discovery.SkipIfEncrypted {
		return model.StatusSkipped, model.SkipEncrypted
	}

	// 5. too small
	minBytes := int64(cfg.Discovery.MinPartitionSizeGB * (1 << 30))
	if d.SizeBytes < minBytes {
		return model.StatusSkipped, model.SkipTooSmall
	}

	// 6. layer disallowed
	if d.FromLVM && !cfg.Discovery.AllowLVM {
		return model.StatusSkipped, model.SkipLayerDisallowed
	}
	if d.FromRAID && !cfg.Discovery.AllowRAID {
		return model.StatusSkipped, model.SkipLayerDisallowed
	}

	return model.StatusSelected, model.SkipNone
}

// sortLargestFirst orders selected volumes by size descending with a
// stable tie-break on device path. Skipped volumes keep
// their discovery order relative to each other but sort after all selected
// ones so the processing order and the printed --list order agree.
func sortLargestFirst(volumes []model.Volume) {
	sort.SliceStable(volumes, func(i, j int) bool {
		vi, vj := volumes[i], volumes[j]
		si, sj := vi.Status == model.StatusSelected, vj.Status == model.StatusSelected
		if si != sj {
			return si // selected before skipped
		}
		if !si {
			return false // preserve discovery order among skipped
		}
		if vi.SizeBytes != vj.SizeBytes {
			return vi.SizeBytes > vj.SizeBytes
		}
		return vi.DevicePath < vj.DevicePath
	})
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}
