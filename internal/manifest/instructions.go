package manifest

import (
	"fmt"
	"os"
)

// WriteInstructions writes the human-readable handoff notes for the
// Windows-side apply tool next to the manifest.
func WriteInstructions(path, manifestName, missingName string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create instructions: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, `Applying creation times on the Windows side
===========================================

Input files (this directory):

  %s   one row per destination file:
      dest_path_relative_to_share,earliest_create_time_utc_iso8601
  %s   destination files with no recoverable creation time,
      annotated with the reason

Procedure:

  1. Mount the consolidated share on the Windows machine.
  2. Run the apply tool with the manifest and the share root:

       apply-create-times.ps1 -Manifest %s -ShareRoot <drive-or-UNC-path>

  3. Each relative path is resolved under the share root and its
     filesystem creation time is set to the manifest value. A file whose
     creation time is already within 2 seconds of the target is left
     untouched, so re-running the tool is safe.

Exit codes: 0 all applied, 1 unrecoverable error, 2 too many per-file
failures (inspect the tool's log, fix, re-run).

Times are UTC, ISO-8601, second precision. The tool must not modify file
content; only the creation timestamp changes.
`, manifestName, missingName, manifestName)
	return err
}
