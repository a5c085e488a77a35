// Package model holds the data types shared across the discovery,
// mount, archive, and shipping stages of a capture run.
package model

// DeviceKind enumerates the recognized block-device classes.
type DeviceKind string

const (
	KindDisk      DeviceKind = "disk"
	KindPartition DeviceKind = "partition"
	KindLVMLV     DeviceKind = "lvm-lv"
	KindMD        DeviceKind = "md"
	KindZVol      DeviceKind = "zvol"
	KindLoop      DeviceKind = "loop"
	KindUnknown   DeviceKind = "unknown"
)

// EncryptionSignature identifies a recognized encrypted-volume tag.
type EncryptionSignature string

const (
	EncNone       EncryptionSignature = ""
	EncLUKS       EncryptionSignature = "luks"
	EncBitLocker  EncryptionSignature = "bitlocker"
	EncAPFS       EncryptionSignature = "apfs-encrypted"
	EncFileVault  EncryptionSignature = "filevault"
	EncVeraCrypt  EncryptionSignature = "veracrypt"
	EncDMCryptGen EncryptionSignature = "dm-crypt"
)

// Device is a node in the block-device topology tree, a DAG traversed
// child-to-parent without back-references.
type Device struct {
	Path          string              `json:"path"`
	Kind          DeviceKind          `json:"kind"`
	FSType        string              `json:"fstype,omitempty"`
	SizeBytes     int64               `json:"size_bytes"`
	Parent        *Device             `json:"-"`
	ParentPath    string              `json:"parent_path,omitempty"`
	Mountpoints   []string            `json:"mountpoints,omitempty"`
	Encryption    EncryptionSignature `json:"encryption,omitempty"`
	InBootChain   bool                `json:"in_boot_chain,omitempty"`
	FromLVM       bool                `json:"from_lvm,omitempty"`
	FromRAID      bool                `json:"from_raid,omitempty"`

	// InspectionFailed is set when the signature probe itself errored
	// (as opposed to reporting "no signature"). A device in this state
	// must never be treated as unencrypted by default; it is routed to
	// SkipInspectionFailed instead of being classified normally.
	InspectionFailed bool `json:"inspection_failed,omitempty"`
}

// IsEncrypted reports whether the device carries a recognized encryption tag.
func (d *Device) IsEncrypted() bool {
	return d.Encryption != EncNone
}
