package ui

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

// captureStdout returns everything f prints to stdout.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	f()
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestSpinnerUpdateMessage(t *testing.T) {
	out := captureStdout(t, func() {
		sp := NewConnectionSpinner("Connecting...")
		sp.Start()
		sp.UpdateMessage("Joining room rrrr...")
		time.Sleep(3 * sp.interval)
		sp.Success("Joined")
		sp.UpdateMessage("ignored")
		sp.Stop()
	})
	if !strings.Contains(out, "Joining room rrrr...") {
		t.Fatalf("updated message never shown: %q", out)
	}
	if !strings.HasSuffix(out, " Joined\n") {
		t.Fatalf("output does not end with the result: %q", out)
	}
}

func TestPrintHelpers(t *testing.T) {
	out := captureStdout(t, func() {
		PrintWarningf("Nobody in room %s answered", "rrrr")
		PrintSuccessf("Joined room %s with %d players", "rrrr", 3)
		PrintInfof("Left room %s", "rrrr")
		PrintErrorf("Error: %v", io.EOF)
	})
	for _, want := range []string{
		"Nobody in room rrrr answered",
		"Joined room rrrr with 3 players",
		IconInfo + " Left room rrrr",
		"Error: EOF",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q: %q", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 4 {
		t.Fatalf("printed %d lines", n)
	}
}
