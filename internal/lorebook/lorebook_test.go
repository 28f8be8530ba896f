// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lorebook

import (
	"strings"
	"testing"
)

func TestActivateMatchesWholeWordsCaseInsensitive(t *testing.T) {
	book := &Book{Entries: []Entry{
		{Keys: []string{"dragon"}, Content: "Dragons hoard gold."},
	}}

	tests := []struct {
		name   string
		recent []string
		fires  bool
	}{
		{"exact word", []string{"tell me about the dragon"}, true},
		{"different case", []string{"DRAGON lore please"}, true},
		{"substring does not fire", []string{"dragonfly season"}, false},
		{"word boundary punctuation", []string{"the dragon, again"}, true},
		{"absent", []string{"nothing relevant"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Activate(book, tt.recent)
			if tt.fires && got == "" {
				t.Error("entry did not fire")
			}
			if !tt.fires && got != "" {
				t.Errorf("entry fired unexpectedly: %q", got)
			}
		})
	}
}

func TestActivateFormatsBlocks(t *testing.T) {
	book := &Book{Entries: []Entry{
		{Keys: []string{"moon base"}, Content: "The base is on Mare Imbrium."},
	}}

	got := Activate(book, []string{"what about the moon base?"})
	want := "# Moon Base\n\nThe base is on Mare Imbrium."
	if got != want {
		t.Errorf("Activate = %q, want %q", got, want)
	}
}

func TestActivateFiresOncePerEntryInOrder(t *testing.T) {
	book := &Book{Entries: []Entry{
		{Keys: []string{"alpha", "beta"}, Content: "first"},
		{Keys: []string{"beta"}, Content: "second"},
	}}

	got := Activate(book, []string{"alpha and beta both appear"})

	if strings.Count(got, "first") != 1 {
		t.Errorf("first entry emitted %d times, want 1", strings.Count(got, "first"))
	}
	if !strings.Contains(got, "---") {
		t.Error("blocks not separated by ---")
	}
	if strings.Index(got, "first") > strings.Index(got, "second") {
		t.Error("entries emitted out of insertion order")
	}
}

func TestActivateSkipsEmptyKeys(t *testing.T) {
	book := &Book{Entries: []Entry{
		{Keys: []string{"  ", ""}, Content: "never"},
	}}
	if got := Activate(book, []string{"anything"}); got != "" {
		t.Errorf("Activate = %q, want empty", got)
	}
}

func TestActivateEmptyInputs(t *testing.T) {
	if got := Activate(nil, []string{"hi"}); got != "" {
		t.Errorf("nil book: got %q, want empty", got)
	}
	if got := Activate(&Book{}, []string{"hi"}); got != "" {
		t.Errorf("empty book: got %q, want empty", got)
	}
	book := &Book{Entries: []Entry{{Keys: []string{"x"}, Content: "c"}}}
	if got := Activate(book, nil); got != "" {
		t.Errorf("no recent messages: got %q, want empty", got)
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	book := &Book{Entries: []Entry{
		{Keys: []string{"castle"}, Content: "It has seven towers."},
		{Keys: []string{"king"}, Content: "He never sleeps."},
	}}
	recent := []string{"the king rode to the castle"}

	first := Activate(book, recent)
	second := Activate(book, recent)
	if first != second {
		t.Errorf("Activate not idempotent:\nfirst  = %q\nsecond = %q", first, second)
	}
}

func TestWindow(t *testing.T) {
	msgs := []string{"a", "b", "c", "d"}
	if got := Window(msgs, 2); len(got) != 2 || got[0] != "c" {
		t.Errorf("Window = %v, want [c d]", got)
	}
	if got := Window(msgs, 10); len(got) != 4 {
		t.Errorf("Window with large n = %v, want all", got)
	}
}

func TestBookDepth(t *testing.T) {
	b := &Book{}
	if b.Depth() != DefaultScanDepth {
		t.Errorf("Depth = %d, want %d", b.Depth(), DefaultScanDepth)
	}
	b.ScanDepth = 7
	if b.Depth() != 7 {
		t.Errorf("Depth = %d, want 7", b.Depth())
	}
}
