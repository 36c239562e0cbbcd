package roll

import (
	"fmt"
	"slices"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{in: "", want: 0},
		{in: "a", want: 97},
		{in: "ab", want: 3105},
		{in: "hello", want: 99162322},
		{in: "é", want: 233},
		{in: "😀", want: 1772899},
		// Wraps to math.MinInt32 before taking the absolute value.
		{in: "polygenelubricants", want: 2147483648},
	}
	for _, tt := range tests {
		if got := Hash(tt.in); got != tt.want {
			t.Errorf("Hash(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSelectRollGeneratorSolo(t *testing.T) {
	got, isSelf := SelectRollGenerator([]string{"me"}, "me", "r1")
	if !isSelf || got != "me" {
		t.Fatalf("expected self roll, got %q self=%v", got, isSelf)
	}

	got, isSelf = SelectRollGenerator(nil, "me", "r1")
	if !isSelf || got != "me" {
		t.Fatalf("expected self roll with no peers, got %q self=%v", got, isSelf)
	}
}

func TestSelectRollGeneratorDeterministic(t *testing.T) {
	peers := []string{"d", "b", "a", "c", "e"}
	shuffled := []string{"e", "c", "a", "d", "b"}

	for i := 0; i < 500; i++ {
		rollID := fmt.Sprintf("roll-%d", i)
		for _, requester := range peers {
			first, selfA := SelectRollGenerator(peers, requester, rollID)
			second, selfB := SelectRollGenerator(shuffled, requester, rollID)
			if first != second || selfA != selfB {
				t.Fatalf("election differs by input order for %s/%s: %q vs %q", rollID, requester, first, second)
			}
			if selfA {
				t.Fatalf("unexpected self roll with %d peers", len(peers))
			}
			if first == requester {
				t.Fatalf("requester %q elected itself for %s", requester, rollID)
			}
			if !slices.Contains(peers, first) {
				t.Fatalf("elected unknown peer %q", first)
			}
		}
	}
}

func TestSelectRollGeneratorIgnoresDuplicates(t *testing.T) {
	a, _ := SelectRollGenerator([]string{"x", "y", "y", "z"}, "x", "roll")
	b, _ := SelectRollGenerator([]string{"x", "y", "z"}, "x", "roll")
	if a != b {
		t.Fatalf("duplicate ids changed the election: %q vs %q", a, b)
	}
}

func TestSelectNextGeneratorSkipsFailed(t *testing.T) {
	peers := []string{"a", "b", "c", "d"}
	var failed []string
	tried := map[string]bool{}

	for {
		next, isSelf := SelectNextGenerator(peers, "a", "roll-7", failed)
		if isSelf {
			break
		}
		if next == "a" {
			t.Fatal("requester elected")
		}
		if tried[next] {
			t.Fatalf("candidate %q elected twice", next)
		}
		tried[next] = true
		failed = append(failed, next)
	}
	if len(tried) != 3 {
		t.Fatalf("expected every other peer to be tried once, got %v", tried)
	}
}

func TestSelectNextGeneratorWithoutFailuresMatchesFirstElection(t *testing.T) {
	peers := []string{"a", "b", "c"}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("r%d", i)
		first, _ := SelectRollGenerator(peers, "b", id)
		next, _ := SelectNextGenerator(peers, "b", id, nil)
		if first != next {
			t.Fatalf("mismatch for %s: %q vs %q", id, first, next)
		}
	}
}
