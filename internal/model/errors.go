package model

import "fmt"

// ExecErrorKind enumerates shell-executor failure modes.
type ExecErrorKind string

const (
	ExecSpawn    ExecErrorKind = "spawn"
	ExecTimeout  ExecErrorKind = "timeout"
	ExecNonZero  ExecErrorKind = "nonzero"
)

// ExecError is returned by the shell executor.
type ExecError struct {
	Kind   ExecErrorKind
	Detail string
	Cause  error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exec %s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("exec %s: %s", e.Kind, e.Detail)
}

func (e *ExecError) Unwrap() error { return e.Cause }

// MountErrorKind enumerates mount-manager failure modes.
type MountErrorKind string

const (
	MountHelperMissing MountErrorKind = "helper_missing"
	MountRefused       MountErrorKind = "mount_refused"
)

type MountError struct {
	Kind   MountErrorKind
	Detail string
	Cause  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s: %s", e.Kind, e.Detail)
}

func (e *MountError) Unwrap() error { return e.Cause }

// ArchiveErrorStage enumerates the stage an archive-pipeline error occurred in.
type ArchiveErrorStage string

const (
	StageTar        ArchiveErrorStage = "tar"
	StageCompress   ArchiveErrorStage = "compress"
	StageSplit      ArchiveErrorStage = "split"
	StageHash       ArchiveErrorStage = "hash"
	StageCompressorMissing ArchiveErrorStage = "compressor_missing"
)

type ArchiveError struct {
	Stage  ArchiveErrorStage
	Cause  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive stage %s: %v", e.Stage, e.Cause)
}

func (e *ArchiveError) Unwrap() error { return e.Cause }

// TransportErrorKind enumerates remote-shipper failure modes.
type TransportErrorKind string

const (
	TransportNetwork  TransportErrorKind = "network"
	TransportAuth     TransportErrorKind = "auth"
	TransportRemoteFS TransportErrorKind = "remote_fs"
)

type TransportError struct {
	Kind  TransportErrorKind
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IntegrityMismatch is fatal for a volume after one retry fails a second time.
type IntegrityMismatch struct {
	Chunk string
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("integrity mismatch for chunk %s", e.Chunk)
}

// ConfigError signals a fatal startup configuration problem (exit 2).
type ConfigError struct {
	Detail string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("config: %s", e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// InspectionError is advisory: the inspector returns partial results plus
// this error, and the affected volume is skipped with reason inspection_failed.
type InspectionError struct {
	Detail string
	Cause  error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("inspection: %s: %v", e.Detail, e.Cause)
}

func (e *InspectionError) Unwrap() error { return e.Cause }

// LayerError is a non-fatal warning from layer activation.
type LayerError struct {
	Layer  string
	Cause  error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %s: %v", e.Layer, e.Cause)
}

func (e *LayerError) Unwrap() error { return e.Cause }
