package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func reader(files map[string]string) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		data, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("missing %s", name)
		}
		return []byte(data), nil
	}
}

func names(files map[string]string) []string {
	out := make([]string, 0, len(files))
	for name := range files {
		out = append(out, name)
	}
	return out
}

func TestFromFilesParsesDescriptionAndParents(t *testing.T) {
	files := map[string]string{
		"calc_E_vs_r_scan.in": "# scan\ncalculation_type E_vs_r_scan\ngrouping potential/eam\nparent D\nparent D\nparent K\nrmin 0.5\n",
		"calc_E_vs_r_scan.py": "print('hi')",
		"2001.bid":            "",
	}
	j, err := FromFiles("C", names(files), reader(files))
	if err != nil {
		t.Fatalf("from files: %v", err)
	}
	if j.Executable != "calc_E_vs_r_scan.py" {
		t.Fatalf("executable = %q", j.Executable)
	}
	if got := strings.Join(j.Parents(), ","); got != "D,K" {
		t.Fatalf("parents = %s, want D,K", got)
	}
	if j.Description.Grouping != "potential/eam" {
		t.Fatalf("grouping = %q", j.Description.Grouping)
	}
	if j.Description.Params["rmin"][0] != "0.5" {
		t.Fatalf("params = %+v", j.Description.Params)
	}
	if j.Record.Status != StatusNotCalculated || j.Record.Key != "C" {
		t.Fatalf("unexpected seed record %+v", j.Record)
	}
}

func TestFromFilesIncomplete(t *testing.T) {
	cases := map[string]map[string]string{
		"no description": {"calc_x.py": ""},
		"no executable":  {"calc_x.in": "a 1\n"},
		"two descriptions": {
			"calc_x.in": "", "calc_y.in": "", "calc_x.py": "",
		},
		"bad grouping":   {"calc_x.in": "grouping ../up\n", "calc_x.py": ""},
		"slashed type":   {"calc_x.in": "calculation_type a/b\n", "calc_x.py": ""},
		"reserved type":  {"calc_x.in": "calculation_type orphan\n", "calc_x.py": ""},
		"hidden type":    {"calc_x.in": "calculation_type .cache\n", "calc_x.py": ""},
		"orphan by name": {"calc_orphan.in": "", "calc_orphan.py": ""},
		"parent result":  {"calc_x.in": "parent result\n", "calc_x.py": ""},
		"parent record":  {"calc_x.in": "parent record\n", "calc_x.py": ""},
		"parent escapes": {"calc_x.in": "parent ../B\n", "calc_x.py": ""},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromFiles("G", names(files), reader(files))
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("expected ErrIncomplete, got %v", err)
			}
		})
	}
}

func TestFromFilesUsesSeededRecord(t *testing.T) {
	files := map[string]string{
		"calc_x.in":   "",
		"calc_x.sh":   "",
		"record.json": `{"key":"other","status":"finished","value":3}`,
	}
	j, err := FromFiles("A", names(files), reader(files))
	if err != nil {
		t.Fatalf("from files: %v", err)
	}
	if j.Record.Key != "A" || j.Record.Type != "x" {
		t.Fatalf("record identity not applied: %+v", j.Record)
	}
	if !j.Record.Terminal() {
		t.Fatalf("expected terminal seeded record")
	}
}

func TestRecordTransitionsOnlyForward(t *testing.T) {
	rec := NewRecord("A", "x", "")
	if err := rec.Finish(map[string]any{"value": 42, "status": "error"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if rec.Status != StatusFinished || rec.Fields["value"] != 42 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok := rec.Fields["status"]; ok {
		t.Fatalf("reserved key leaked into fields")
	}
	if err := rec.Fail("late"); !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("expected backward transition error, got %v", err)
	}
	if err := rec.Transition(StatusNotCalculated); !errors.Is(err, ErrBackwardTransition) {
		t.Fatalf("expected backward transition error, got %v", err)
	}
	if err := rec.Transition(StatusFinished); err != nil {
		t.Fatalf("same-status transition should be a no-op: %v", err)
	}
}

func TestRecordJSONIsFlatAndStable(t *testing.T) {
	rec := NewRecord("A", "x", "g/h")
	if err := rec.Finish(map[string]any{"value": 42}); err != nil {
		t.Fatal(err)
	}
	first, err := EncodeRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncodeRecord(rec.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("encoding not stable:\n%s\n%s", first, second)
	}
	var flat map[string]any
	if err := json.Unmarshal(first, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["status"] != "finished" || flat["value"] != float64(42) || flat["key"] != "A" {
		t.Fatalf("unexpected flat record %v", flat)
	}
	if _, err := ParseRecord([]byte(`{"key":"A","status":"running"}`)); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestBidDecodeAndStaleness(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	legacy, ok := DecodeBid("101.bid", nil, now.Add(-2*time.Hour))
	if !ok || legacy.Identity != 101 {
		t.Fatalf("legacy bid not decoded: %+v", legacy)
	}
	if !legacy.Stale(now, time.Hour) {
		t.Fatalf("legacy bid older than lease should be stale")
	}
	if legacy.Stale(now, 0) {
		t.Fatalf("zero lease disables staleness")
	}
	body, err := EncodeBid(Bid{Identity: 7, Created: now, Expires: now.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	fresh, ok := DecodeBid("205.bid", body, now)
	if !ok || fresh.Identity != 205 {
		t.Fatalf("file name must win over body identity: %+v", fresh)
	}
	if fresh.Stale(now, time.Hour) {
		t.Fatalf("bid within its expiry reported stale")
	}
	if _, ok := DecodeBid("notes.txt", nil, now); ok {
		t.Fatalf("non-bid file decoded as bid")
	}
}

func TestLibraryPath(t *testing.T) {
	got, err := LibraryPath("E0", "Al/fcc")
	if err != nil || strings.Join(got, "|") != "E0|Al|fcc" {
		t.Fatalf("path = %v, %v", got, err)
	}
	for _, tc := range [][2]string{{"", ""}, {"a/b", ""}, {"orphan", ""}, {".x", ""}, {"E0", `Al\fcc`}} {
		if _, err := LibraryPath(tc[0], tc[1]); !errors.Is(err, ErrLayout) {
			t.Fatalf("LibraryPath(%q, %q) = %v, want ErrLayout", tc[0], tc[1], err)
		}
	}
}
