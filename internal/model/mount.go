package model

// Mount is a scoped, released-on-every-exit-path mount acquired by the
// mount manager for a single volume.
type Mount struct {
	Mountpoint string
	Source     string
	FSType     string
	Flags      string
	release    func() error
}

// NewMount wires a release closure into a Mount handle.
func NewMount(mountpoint, source, fstype, flags string, release func() error) *Mount {
	return &Mount{Mountpoint: mountpoint, Source: source, FSType: fstype, Flags: flags, release: release}
}

// Release unmounts and removes the scratch mountpoint. Safe to call more
// than once; only the first call has effect.
func (m *Mount) Release() error {
	if m.release == nil {
		return nil
	}
	release := m.release
	m.release = nil
	return release()
}
