package main

import (
	"fmt"
	"time"

	"github.com/tom/unomerge/internal/collision"
	"github.com/tom/unomerge/internal/fsmeta"
	"github.com/tom/unomerge/internal/taxonomy"
	"github.com/tom/unomerge/internal/util"
)

// runSelfTest exercises the pure building blocks without touching the
// volumes and without requiring privilege.
func runSelfTest() error {
	util.InfoLog("=== Self-test ===")
	failures := 0

	check := func(name string, ok bool, detail string) {
		if ok {
			util.SuccessLog("[✓] %s", name)
		} else {
			util.ErrorLog("[✗] %s: %s", name, detail)
			failures++
		}
	}

	// CSV quoting
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a,b", `"a,b"`},
		{`say "hi"`, `"say ""hi"""`},
		{" padded", `" padded"`},
		{"trailing ", `"trailing "`},
		{"line\nbreak", "\"line\nbreak\""},
	} {
		got := util.CSVQuoteField(tc.in)
		check(fmt.Sprintf("csv quote %q", tc.in), got == tc.want,
			fmt.Sprintf("got %q, want %q", got, tc.want))
	}

	// Taxonomy routing
	for _, tc := range []struct {
		name string
		kind taxonomy.Kind
		want string
	}{
		{"Pictures", taxonomy.KindDir, "02_Media/Photos"},
		{"AUDIO", taxonomy.KindDir, "02_Media/Audio"},
		{"ASH", taxonomy.KindDir, "ASH"},
		{"found.000", taxonomy.KindDir, "90_System_Artifacts/Recovered_found.000"},
		{"Old_Archive", taxonomy.KindDir, "90_System_Artifacts/Unmapped_Folders/UNOE/Old_Archive"},
		{"vacation.jpg", taxonomy.KindFile, "02_Media/Photos/_From_Root/UNOE/vacation.jpg"},
		{"notes.txt", taxonomy.KindFile, "90_System_Artifacts/Loose_Files/UNOE/notes.txt"},
	} {
		got, err := taxonomy.Classify(taxonomy.OriginUNOE, tc.name, tc.kind)
		check(fmt.Sprintf("classify %s", tc.name), err == nil && got == tc.want,
			fmt.Sprintf("got %q (%v), want %q", got, err, tc.want))
	}
	_, err := taxonomy.Classify(taxonomy.OriginUNOE, "$RECYCLE.BIN", taxonomy.KindDir)
	check("classify excludes $RECYCLE.BIN", err != nil, "expected exclusion")

	// Suffix naming fixed point
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"/d/p.jpg", "/d/p__UNOE.jpg"},
		{"/d/p__UNOE.jpg", "/d/p__UNOE.jpg"},
		{"/d/p__DOSE_3.jpg", "/d/p__DOSE_3.jpg"},
		{"/d/p__UNOEsomething.jpg", "/d/p__UNOEsomething__UNOE.jpg"},
		{"/d/noext", "/d/noext__UNOE"},
	} {
		got := collision.SuffixedSibling(tc.in, taxonomy.OriginUNOE)
		check(fmt.Sprintf("suffix %s", tc.in), got == tc.want,
			fmt.Sprintf("got %q, want %q", got, tc.want))
	}

	// FILETIME decode vectors, built from the inverse conversion so the
	// self-test carries no hand-computed constants
	const unixSecs = int64(1425290400) // 2015-03-02T10:00:00Z
	encoded := fmt.Sprintf("%016x", uint64(unixSecs+11644473600)*10_000_000)
	want := fsmeta.FormatUTC(time.Unix(unixSecs, 0))
	for _, raw := range []string{encoded, "0x" + encoded, "deadbeef" + encoded} {
		t, err := fsmeta.DecodeFiletimeHex(raw)
		check(fmt.Sprintf("filetime decode %.8s…", raw),
			err == nil && fsmeta.FormatUTC(t) == want,
			fmt.Sprintf("got %v (%v), want %s", t, err, want))
	}
	for _, raw := range []string{"xyz", "1234", "0000000000000000"} {
		_, err := fsmeta.DecodeFiletimeHex(raw)
		check(fmt.Sprintf("filetime rejects %q", raw), err != nil, "expected parse error")
	}

	if failures > 0 {
		return fmt.Errorf("self-test failed: %d check(s)", failures)
	}
	util.SuccessLog("Self-test passed")
	return nil
}
