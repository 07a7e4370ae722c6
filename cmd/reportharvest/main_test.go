package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	// Flag variables are package globals; start every invocation clean.
	cfgFile, verbose, fetcherType, headful, noStealth = "", false, "", false, false
	pageTimeout, batchSize = 0, 0
	linksFile, reportsFile, indexURL, mongoURI, sqlitePath = "", "", "", "", ""

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func writeTable(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.csv")
	content := strings.Join(types.Header, ",") + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCleanupCommand(t *testing.T) {
	row := "T,S,A,B,D,R,https://www.erowid.org/experiences/exp.php?ID=1"
	path := writeTable(t, row, row)

	out := execute(t, "cleanup", "--reports-file", path)
	if !strings.Contains(out, "1 duplicate rows removed") {
		t.Errorf("unexpected output %q", out)
	}

	out = execute(t, "cleanup", "--reports-file", path)
	if !strings.Contains(out, "0 duplicate rows removed") {
		t.Errorf("second cleanup should remove nothing, got %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	path := writeTable(t,
		"T1,S,A,B,D,R,https://www.erowid.org/experiences/exp.php?ID=1",
		"T2,S,A,B,D,R,https://www.erowid.org/experiences/exp.php?ID=2",
	)
	db := filepath.Join(t.TempDir(), "reports.db")

	out := execute(t, "export", "--reports-file", path, "--sqlite", db)
	if !strings.Contains(out, "2 rows exported, 2 reports") {
		t.Errorf("unexpected output %q", out)
	}

	out = execute(t, "export", "--reports-file", path, "--sqlite", db)
	if !strings.Contains(out, "2 reports") {
		t.Errorf("re-export should upsert in place, got %q", out)
	}
}

func TestLinksCommandLoadsSavedLinkSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")
	links := "https://www.erowid.org/experiences/exp.php?ID=1\nhttps://www.erowid.org/experiences/exp.php?ID=2\n"
	if err := os.WriteFile(path, []byte(links), 0o644); err != nil {
		t.Fatal(err)
	}

	// The default browser fetcher would fail without Chromium; an unreachable
	// index and a bogus browser binary show that neither is touched.
	t.Setenv("REPORTHARVEST_FETCHER_BROWSER_BIN", filepath.Join(t.TempDir(), "no-such-browser"))
	out := execute(t, "links", "--links-file", path, "--index-url", "http://127.0.0.1:1/index")
	if !strings.Contains(out, "2 links in "+path) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConfigCommandShowsOverrides(t *testing.T) {
	out := execute(t, "config", "--fetcher", "http", "--batch-size", "25", "--timeout", "3s")
	for _, want := range []string{"Type:              http", "Batch Size:        25", "Page Timeout:      3s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestApplyCLIOverridesKeepsDefaults(t *testing.T) {
	cfgFile, verbose, fetcherType, headful, noStealth = "", false, "", false, false
	pageTimeout, batchSize = 0, 0
	linksFile, reportsFile, indexURL, mongoURI, sqlitePath = "", "", "", "", ""

	cfg := config.DefaultConfig()
	applyCLIOverrides(cfg)

	want := config.DefaultConfig()
	if cfg.Fetcher.PageTimeout != 15*time.Second || cfg.Storage.BatchSize != want.Storage.BatchSize {
		t.Errorf("defaults changed: timeout=%s batch=%d", cfg.Fetcher.PageTimeout, cfg.Storage.BatchSize)
	}
	if cfg.Storage.ReportsFile != "Erowid_Trip_Reports.csv" || cfg.Storage.LinksFile != "erowid_links.txt" {
		t.Errorf("unexpected file defaults: %s, %s", cfg.Storage.ReportsFile, cfg.Storage.LinksFile)
	}
	if !cfg.Fetcher.Headless || !cfg.Fetcher.Stealth {
		t.Error("browser should default to headless with stealth")
	}
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	if !strings.HasPrefix(out, "reportharvest ") {
		t.Errorf("unexpected version output %q", out)
	}
}
