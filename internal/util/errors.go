package util

import "errors"

// Sentinel errors for the pipeline's fatal failure modes
var (
	// ErrMissingTool indicates a required external tool is not installed
	ErrMissingTool = errors.New("missing tool")

	// ErrNotPrivileged indicates the process lacks the privilege mutating phases need
	ErrNotPrivileged = errors.New("not privileged")

	// ErrDestinationWrite indicates a write to the destination volume failed
	ErrDestinationWrite = errors.New("destination write failure")

	// ErrManifestHeaders indicates the provenance CSV header does not match
	ErrManifestHeaders = errors.New("invalid manifest headers")

	// ErrMissingProvenance indicates the provenance store is absent
	ErrMissingProvenance = errors.New("missing provenance for manifest")

	// ErrLocked indicates the run directory is owned by another orchestrator
	ErrLocked = errors.New("run directory locked")
)
