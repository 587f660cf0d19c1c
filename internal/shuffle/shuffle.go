// Package shuffle implements deterministic per-student randomization of
// question order and answer option order. The same seed always yields the
// same permutation, so a student sees a stable order across reloads while
// different students generally see different ones.
package shuffle

import (
	"hash/fnv"
	"io"
	"strconv"
	"strings"

	"github.com/aksara-lms/proctor-backend/internal/model"
)

// unit hashes seed+index into [0, 1). This is the only source of
// randomness in the package; no global RNG state is involved.
func unit(seed string, index int) float64 {
	h := fnv.New32a()
	_, _ = io.WriteString(h, seed)
	_, _ = io.WriteString(h, ":")
	_, _ = io.WriteString(h, strconv.Itoa(index))
	return float64(h.Sum32()) / (1 << 32)
}

// Perm returns the permutation Fisher-Yates produces for n elements under
// the given seed: out[newIndex] = originalIndex.
func Perm(n int, seed string) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := int(unit(seed, i) * float64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// Strings permutes a sequence deterministically. Sequences shorter than
// two elements are returned as-is.
func Strings(seq []string, seed string) []string {
	if len(seq) < 2 {
		return seq
	}
	perm := Perm(len(seq), seed)
	out := make([]string, len(seq))
	for newPos, origPos := range perm {
		out[newPos] = seq[origPos]
	}
	return out
}

// Questions permutes question IDs for one student.
func Questions(ids []string, seed string) []string {
	return Strings(ids, seed)
}

// Options shuffles a question's answer options and rewrites the correct
// keys into displayed space.
//
// Blank option slots are excluded from shuffling and keep their original
// trailing positions. Displayed options keep the positional key of the slot
// they land in; order maps each displayed key back to the authored key.
// Fewer than two non-blank options is a no-op with an identity mapping.
func Options(opts []model.Option, correct []string, seed string) (display []model.Option, order map[string]string, remapped []string) {
	display = make([]model.Option, len(opts))
	copy(display, opts)
	order = make(map[string]string, len(opts))

	filled := make([]int, 0, len(opts))
	for i, o := range opts {
		order[o.Key] = o.Key
		if strings.TrimSpace(o.Text) != "" {
			filled = append(filled, i)
		}
	}

	if len(filled) >= 2 {
		perm := Perm(len(filled), seed)
		for newPos, origPos := range perm {
			slot := filled[newPos]
			src := opts[filled[origPos]]
			display[slot] = model.Option{Key: opts[slot].Key, Text: src.Text}
			order[opts[slot].Key] = src.Key
		}
	}

	remapped = RemapKeys(correct, order)
	return display, order, remapped
}

// RemapKeys rewrites authored option keys into displayed space using the
// displayed→authored order mapping.
func RemapKeys(authored []string, order map[string]string) []string {
	inverse := make(map[string]string, len(order))
	for displayed, orig := range order {
		inverse[orig] = displayed
	}
	out := make([]string, 0, len(authored))
	for _, k := range authored {
		if displayed, ok := inverse[k]; ok {
			out = append(out, displayed)
		} else {
			out = append(out, k)
		}
	}
	return out
}

// ToAuthored translates one displayed option key back to its authored key.
func ToAuthored(order map[string]string, displayed string) string {
	if orig, ok := order[displayed]; ok {
		return orig
	}
	return displayed
}

// ToDisplayed translates one authored key into displayed space.
func ToDisplayed(order map[string]string, authored string) string {
	for displayed, orig := range order {
		if orig == authored {
			return displayed
		}
	}
	return authored
}
