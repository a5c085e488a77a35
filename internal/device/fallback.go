package device

import (
	"fmt"
	"os"
	"regexp"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/coldcapture/coldcapture/internal/model"
)

// wholeDiskNamePattern matches /dev entries for whole disks only (sda, vdb,
// nvme0n1, hdc) — never partitions (sda1, nvme0n1p1).
var wholeDiskNamePattern = regexp.MustCompile(`^(?:[svh]d[a-z]+|nvme\d+n\d+|xvd[a-z]+)$`)

// candidateWholeDisks lists devRoot for whole-disk device nodes, used to
// seed the partition-table fallback when lsblk itself cannot be run.
func candidateWholeDisks(devRoot string) ([]string, error) {
	entries, err := os.ReadDir(devRoot)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if wholeDiskNamePattern.MatchString(e.Name()) {
			paths = append(paths, devRoot+"/"+e.Name())
		}
	}
	return paths, nil
}

// listBlockDevicesFallback rebuilds a topology by reading partition tables
// directly off each whole-disk device node under devRoot, for hosts where
// lsblk is missing or failing. Sizes and fstypes below the partition level
// are not available this way; enumeration still works since fstype-gated
// filters treat an empty fstype as "unknown" rather than "excluded".
func listBlockDevicesFallback(devRoot string) ([]*model.Device, error) {
	disks, err := candidateWholeDisks(devRoot)
	if err != nil {
		return nil, &model.InspectionError{Detail: "listing " + devRoot + " for whole disks", Cause: err}
	}

	var devices []*model.Device
	for _, path := range disks {
		disk := &model.Device{Path: path, Kind: model.KindDisk}
		devices = append(devices, disk)

		parts, err := ProbePartitionTableFallback(path)
		if err != nil {
			log.Warnw("partition table fallback probe failed", "device", path, "error", err)
			continue
		}
		for i := range parts {
			p := parts[i]
			devices = append(devices, &p)
		}
	}
	return devices, nil
}

// ProbePartitionTableFallback reads a whole-disk device's partition table
// directly via go-diskfs when lsblk is unavailable (e.g. a loopback image
// under test). This is a supplemental enrichment over the primary
// "query lsblk" device listing — used only as a fallback, never in
// place of it. Adapted from internal/image/imageinspect.go, which reads
// GPT/MBR tables the same way for a single raw image file.
func ProbePartitionTableFallback(devicePath string) ([]model.Device, error) {
	disk, err := diskfs.Open(devicePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, &model.InspectionError{Detail: "opening " + devicePath + " via diskfs", Cause: err}
	}
	defer disk.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		return nil, &model.InspectionError{Detail: "reading partition table on " + devicePath, Cause: err}
	}

	return partitionsFromTable(table, devicePath, disk.LogicalBlocksize)
}

// partitionsFromTable turns an already-read partition.Table into partition
// devices. Split out from ProbePartitionTableFallback so it can be tested
// directly against the gpt/mbr constructors without opening a real disk.
func partitionsFromTable(table partition.Table, devicePath string, logicalBlockSize int64) ([]model.Device, error) {
	var out []model.Device
	switch t := table.(type) {
	case *gpt.Table:
		idx := 0
		for _, p := range t.Partitions {
			if p.Start == 0 && p.End == 0 {
				continue
			}
			idx++
			sizeBytes := (p.End - p.Start + 1) * uint64(logicalBlockSize)
			out = append(out, model.Device{
				Path:       fmt.Sprintf("%sp%d", devicePath, idx),
				Kind:       model.KindPartition,
				SizeBytes:  int64(sizeBytes),
				ParentPath: devicePath,
			})
		}
	case *mbr.Table:
		idx := 0
		for _, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			idx++
			sizeBytes := uint64(p.Size) * uint64(logicalBlockSize)
			out = append(out, model.Device{
				Path:       fmt.Sprintf("%sp%d", devicePath, idx),
				Kind:       model.KindPartition,
				SizeBytes:  int64(sizeBytes),
				ParentPath: devicePath,
			})
		}
	default:
		return nil, &model.InspectionError{Detail: fmt.Sprintf("unsupported partition table type %T on %s", table, devicePath)}
	}
	return out, nil
}
