package mount

// recipe describes how to mount one filesystem type read-only with the
// defensive flags from the mount-recipe table below.
type recipe struct {
	// helper is the external binary required beyond the core `mount`
	// command ("" means the kernel driver handles it natively).
	helper string
	// mountType is the value passed to `mount -t`.
	mountType string
	// options is the -o value.
	options string
}

var recipes = map[string]recipe{
	"ext2": {mountType: "ext2", options: "ro,noload,nodev,nosuid,noexec"},
	"ext3": {mountType: "ext3", options: "ro,noload,nodev,nosuid,noexec"},
	"ext4": {mountType: "ext4", options: "ro,noload,nodev,nosuid,noexec"},
	"xfs":  {mountType: "xfs", options: "ro,norecovery,nodev,nosuid,noexec"},
	"btrfs": {mountType: "btrfs", options: "ro,nodev,nosuid,noexec"},
	"ntfs": {helper: "ntfs-3g", mountType: "ntfs-3g", options: "ro,nodev,nosuid,noexec"},
	"vfat": {mountType: "vfat", options: "ro,uid=0,gid=0,umask=022,nodev,nosuid,noexec"},
	"exfat": {mountType: "exfat", options: "ro,nodev,nosuid,noexec"},
	"hfs":  {helper: "mount.hfsplus", mountType: "hfs", options: "ro,nodev,nosuid,noexec"},
	"hfsplus": {mountType: "hfsplus", options: "ro,force,nodev,nosuid,noexec"},
	"apfs": {helper: "apfs-fuse", mountType: "apfs", options: "readonly"},
	"zfs":  {mountType: "zfs", options: "ro,nodev,nosuid,noexec"},
}

// recipeFor returns the mount recipe for fstype and whether it is known.
func recipeFor(fstype string) (recipe, bool) {
	r, ok := recipes[fstype]
	return r, ok
}
