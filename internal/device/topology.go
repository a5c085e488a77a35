// Package device queries block-device topology, filesystem signatures,
// mount state, and encryption signatures. Adapted from the
// internal/image/imageinspect package's partition/filesystem summary
// shape, reworked to describe live block devices rather than a single raw
// image file, and enriched with a diskfs-backed fallback probe (also from
// imageinspect.go) for when lsblk is unavailable.
package device

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/shellexec"
)

var log = logging.Logger()

// Inspector implements the three device-discovery operations above. It never mutates
// state; on tool failure it returns partial results plus an advisory error.
type Inspector struct {
	Exec shellexec.Executor

	// DevRoot is where the partition-table fallback looks for whole-disk
	// device nodes when lsblk is unavailable. Empty means "/dev"; tests
	// point it at a scratch directory.
	DevRoot string
}

// NewInspector wires a shell executor into an Inspector.
func NewInspector(exec shellexec.Executor) *Inspector {
	return &Inspector{Exec: exec}
}

func (in *Inspector) devRoot() string {
	if in.DevRoot != "" {
		return in.DevRoot
	}
	return "/dev"
}

// lsblkNode mirrors the subset of `lsblk -J -O -b` JSON we consume.
type lsblkNode struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	Type        string      `json:"type"`
	FSType      string      `json:"fstype"`
	Size        json.Number `json:"size"`
	Mountpoints []*string   `json:"mountpoints"`
	PKName      string      `json:"pkname"`
	Children    []lsblkNode `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkNode `json:"blockdevices"`
}

// ListBlockDevices returns a flattened tree of Devices with kind, fstype,
// size, mountpoints and parent links.
func (in *Inspector) ListBlockDevices(ctx context.Context) ([]*model.Device, error) {
	res, err := in.Exec.Run(ctx, shellexec.Request{
		Argv: []string{"lsblk", "-J", "-O", "-b", "-p"},
	})
	if err != nil {
		log.Warnw("lsblk failed, falling back to direct partition-table reads", "error", err)
		devices, fbErr := listBlockDevicesFallback(in.devRoot())
		if fbErr != nil {
			return nil, &model.InspectionError{Detail: "lsblk failed and fallback probe also failed", Cause: err}
		}
		return devices, nil
	}

	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, &model.InspectionError{Detail: "parsing lsblk JSON", Cause: err}
	}

	var devices []*model.Device
	for i := range out.BlockDevices {
		walk(&out.BlockDevices[i], nil, &devices)
	}
	return devices, nil
}

func walk(node *lsblkNode, parent *model.Device, out *[]*model.Device) {
	d := &model.Device{
		Path:      firstNonEmpty(node.Path, node.Name),
		Kind:      kindOf(node.Type),
		FSType:    node.FSType,
		SizeBytes: numberToInt64(node.Size),
		Parent:    parent,
	}
	if parent != nil {
		d.ParentPath = parent.Path
		d.FromLVM = parent.FromLVM
		d.FromRAID = parent.FromRAID
	}
	if d.Kind == model.KindLVMLV {
		d.FromLVM = true
	}
	if d.Kind == model.KindMD {
		d.FromRAID = true
	}
	for _, mp := range node.Mountpoints {
		if mp != nil && *mp != "" {
			d.Mountpoints = append(d.Mountpoints, *mp)
		}
	}
	*out = append(*out, d)
	for i := range node.Children {
		walk(&node.Children[i], d, out)
	}
}

func kindOf(lsblkType string) model.DeviceKind {
	switch lsblkType {
	case "disk":
		return model.KindDisk
	case "part":
		return model.KindPartition
	case "lvm":
		return model.KindLVMLV
	case "raid1", "raid0", "raid5", "raid6", "raid10", "md":
		return model.KindMD
	case "loop":
		return model.KindLoop
	default:
		return model.KindUnknown
	}
}

func numberToInt64(n json.Number) int64 {
	v, _ := strconv.ParseInt(n.String(), 10, 64)
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// recognizedEncryptedSignatures maps blkid TYPE values (and filesystem
// labels observed in the wild) to the encryption tags enumerated in
// the block-device inspector.
var recognizedEncryptedSignatures = map[string]model.EncryptionSignature{
	"crypto_LUKS":   model.EncLUKS,
	"crypt_LUKS2":   model.EncLUKS,
	"BitLocker":     model.EncBitLocker,
	"bde":           model.EncBitLocker,
	"apfs":          model.EncAPFS, // further disambiguated by probe output below
	"DM_crypt":      model.EncDMCryptGen,
	"crypto_TCRYPT": model.EncVeraCrypt,
	"tcrypt":        model.EncVeraCrypt,
}

// cryptoContainerFSTypes are fstypes that are themselves crypto containers,
// independent of their blkid TYPE tag.
var cryptoContainerFSTypes = map[string]bool{
	"crypto_LUKS": true,
	"LUKS":        true,
}

// filevaultVersionMarkers are substrings blkid reports in its VERSION
// field for an APFS container whose volume roles include an encrypted
// FileVault volume, as opposed to a plain unencrypted APFS container.
var filevaultVersionMarkers = []string{"filevault", "fv2"}

// ProbeSignature returns an optional filesystem/encryption tag for path.
// A volume is declared encrypted if its blkid type matches a known
// encrypted tag, its fstype is a crypto container, or the signature probe
// yields one of the recognized encrypted tags.
func (in *Inspector) ProbeSignature(ctx context.Context, path string) (model.EncryptionSignature, error) {
	res, err := in.Exec.Run(ctx, shellexec.Request{
		Argv: []string{"blkid", "-p", "-o", "export", path},
	})
	if err != nil {
		// blkid exits non-zero on unrecognized/empty superblocks; that is
		// not an inspection failure, just "no signature".
		if execErr, ok := err.(*model.ExecError); ok && execErr.Kind == model.ExecNonZero {
			return model.EncNone, nil
		}
		return model.EncNone, &model.InspectionError{Detail: "blkid failed for " + path, Cause: err}
	}

	fields := parseExportFormat(res.Stdout)
	typ := fields["TYPE"]
	usage := fields["USAGE"]
	version := strings.ToLower(fields["VERSION"])

	if typ == "apfs" {
		switch {
		case containsAny(version, filevaultVersionMarkers):
			return model.EncFileVault, nil
		case strings.Contains(version, "encrypted") && !strings.Contains(version, "unencrypted"):
			return model.EncAPFS, nil
		default:
			return model.EncNone, nil
		}
	}
	if sig, ok := recognizedEncryptedSignatures[typ]; ok {
		return sig, nil
	}
	if cryptoContainerFSTypes[typ] {
		return model.EncLUKS, nil
	}
	// VeraCrypt containers carry no stable blkid TYPE of their own (the
	// format is deliberately indistinguishable from random data without
	// the passphrase); a generic crypto USAGE with an empty TYPE is the
	// closest blkid gets to flagging one, so treat it as VeraCrypt rather
	// than falling through to unencrypted.
	if strings.EqualFold(usage, "crypto") && typ == "" {
		return model.EncVeraCrypt, nil
	}
	if strings.EqualFold(usage, "crypto") {
		return model.EncDMCryptGen, nil
	}
	return model.EncNone, nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func parseExportFormat(out string) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		fields[k] = v
	}
	return fields
}

// BootExclusionSet is the device backing the running root mount plus its
// whole-disk ancestor.
type BootExclusionSet struct {
	RootDevice   string
	DiskAncestor string
}

// Contains reports whether path is part of the boot-exclusion set.
func (b BootExclusionSet) Contains(path string) bool {
	return path != "" && (path == b.RootDevice || path == b.DiskAncestor)
}

// DetectBootSource resolves the running root mount's backing device and its
// whole-disk ancestor from the device topology.
func (in *Inspector) DetectBootSource(ctx context.Context, topology []*model.Device) (BootExclusionSet, error) {
	rootSrc, err := rootMountSource()
	if err != nil {
		return BootExclusionSet{}, &model.InspectionError{Detail: "resolving root mount source", Cause: err}
	}

	set := BootExclusionSet{RootDevice: rootSrc}
	for _, d := range topology {
		if d.Path == rootSrc {
			anc := d
			for anc.Parent != nil {
				anc = anc.Parent
			}
			set.DiskAncestor = anc.Path
			break
		}
	}
	if set.DiskAncestor == "" {
		log.Warnw("could not resolve whole-disk ancestor for root device", "root", rootSrc)
	}
	return set, nil
}

func rootMountSource() (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "/" {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no root mount entry found in /proc/mounts")
}
