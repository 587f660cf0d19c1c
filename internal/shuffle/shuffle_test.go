package shuffle

import (
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

func TestStringsIsPermutation(t *testing.T) {
	in := []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}

	for i := 0; i < 25; i++ {
		seed := fmt.Sprintf("student-%d@example.com", i)
		out := Strings(in, seed)

		if len(out) != len(in) {
			t.Fatalf("seed %q: length %d, want %d", seed, len(out), len(in))
		}

		sortedIn := append([]string(nil), in...)
		sortedOut := append([]string(nil), out...)
		sort.Strings(sortedIn)
		sort.Strings(sortedOut)
		if !reflect.DeepEqual(sortedIn, sortedOut) {
			t.Fatalf("seed %q: output %v is not a permutation of %v", seed, out, in)
		}
	}
}

func TestStringsReplayIsIdempotent(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}

	first := Strings(in, "alice@x.com:E1")
	second := Strings(in, "alice@x.com:E1")

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed produced %v then %v", first, second)
	}
}

func TestStringsVariesAcrossSeeds(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e", "f"}

	distinct := make(map[string]bool)
	for i := 0; i < 20; i++ {
		out := Strings(in, fmt.Sprintf("seed-%d", i))
		distinct[fmt.Sprint(out)] = true
	}

	if len(distinct) < 2 {
		t.Fatalf("20 seeds produced only %d distinct orders", len(distinct))
	}
}

func TestStringsShortSequencesUntouched(t *testing.T) {
	if out := Strings([]string{"only"}, "s"); !reflect.DeepEqual(out, []string{"only"}) {
		t.Fatalf("single element changed: %v", out)
	}
	if out := Strings(nil, "s"); len(out) != 0 {
		t.Fatalf("nil input produced %v", out)
	}
}

func opts(texts ...string) []model.Option {
	keys := []string{"A", "B", "C", "D", "E"}
	out := make([]model.Option, len(texts))
	for i, txt := range texts {
		out[i] = model.Option{Key: keys[i], Text: txt}
	}
	return out
}

func TestOptionsCorrectKeyFollowsValue(t *testing.T) {
	// Scenario from the exam flow: alice takes exam E1, options A-D with
	// correct answer B. Wherever B's text lands, the remapped correct key
	// must point at that slot.
	in := opts("Jakarta", "Bandung", "Surabaya", "Medan")
	seed := "alice@x.com:E1:q-42"

	display, order, remapped := Options(in, []string{"B"}, seed)

	if len(remapped) != 1 {
		t.Fatalf("remapped = %v, want one key", remapped)
	}
	var landed string
	for _, o := range display {
		if o.Text == "Bandung" {
			landed = o.Key
		}
	}
	if landed == "" {
		t.Fatalf("correct option text missing from display %v", display)
	}
	if remapped[0] != landed {
		t.Fatalf("correct key %q, but value landed in slot %q", remapped[0], landed)
	}
	if ToAuthored(order, remapped[0]) != "B" {
		t.Fatalf("order mapping does not invert: %v", order)
	}
}

func TestOptionsMappingIsBijective(t *testing.T) {
	in := opts("w", "x", "y", "z")

	for i := 0; i < 10; i++ {
		_, order, _ := Options(in, nil, fmt.Sprintf("s-%d", i))

		seen := make(map[string]bool)
		for _, orig := range order {
			if seen[orig] {
				t.Fatalf("seed s-%d: original key %q mapped twice: %v", i, orig, order)
			}
			seen[orig] = true
		}
		if len(order) != len(in) {
			t.Fatalf("seed s-%d: mapping size %d, want %d", i, len(order), len(in))
		}
	}
}

func TestOptionsBlankSlotsStayPut(t *testing.T) {
	in := opts("x", "y", "z", "", "")

	for i := 0; i < 10; i++ {
		display, order, _ := Options(in, nil, fmt.Sprintf("b-%d", i))

		if display[3].Text != "" || display[4].Text != "" {
			t.Fatalf("seed b-%d: blank slots moved: %v", i, display)
		}
		if order["D"] != "D" || order["E"] != "E" {
			t.Fatalf("seed b-%d: blank slots remapped: %v", i, order)
		}
	}
}

func TestOptionsFewerThanTwoIsNoOp(t *testing.T) {
	in := opts("only", "")

	display, order, remapped := Options(in, []string{"A"}, "whatever")

	if !reflect.DeepEqual(display, in) {
		t.Fatalf("display changed: %v", display)
	}
	if order["A"] != "A" || remapped[0] != "A" {
		t.Fatalf("identity mapping expected, got order=%v remapped=%v", order, remapped)
	}
}

func TestToDisplayedInvertsToAuthored(t *testing.T) {
	in := opts("p", "q", "r", "s")
	_, order, _ := Options(in, nil, "invert-seed")

	for _, o := range in {
		displayed := ToDisplayed(order, o.Key)
		if got := ToAuthored(order, displayed); got != o.Key {
			t.Fatalf("round trip %q → %q → %q", o.Key, displayed, got)
		}
	}
}
