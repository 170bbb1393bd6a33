package memory

import (
	"context"
	"testing"
)

func TestAssembleContext_WalksChildrenAndRelated(t *testing.T) {
	s := newTestArchStore(t)
	ctx := context.Background()

	mustCreateArch(t, s, "demo", ArchitectureInput{
		Slug:           "root",
		Title:          strp("Root System"),
		AIRequirements: strp("The root system coordinates everything."),
		ChildrenSlugs:  strsp([]string{"child"}),
		RelatedSlugs:   strsp([]string{"related"}),
	})
	mustCreateArch(t, s, "demo", ArchitectureInput{
		Slug:           "child",
		Title:          strp("Child Module"),
		AIRequirements: strp("The child module handles a subtask."),
		AIWhenToUse:    strsp([]string{"Use when delegating work."}),
	})
	mustCreateArch(t, s, "demo", ArchitectureInput{
		Slug:           "related",
		Title:          strp("Related Tool"),
		AIRequirements: strp("A supporting tool. It has more detail."),
	})

	cs := NewContextService(s, nil)
	result, err := cs.AssembleContext(ctx, "demo", "root", 4000, 2)
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if result.Truncated {
		t.Fatalf("expected no truncation with a generous budget")
	}
	want := map[string]bool{"root": true, "child": true, "related": true}
	for _, slug := range result.Slugs {
		if !want[slug] {
			t.Fatalf("unexpected slug %q in result", slug)
		}
		delete(want, slug)
	}
	if len(want) != 0 {
		t.Fatalf("missing slugs in result: %v", want)
	}
}

func TestAssembleContext_TruncatesUnderTightBudget(t *testing.T) {
	s := newTestArchStore(t)
	ctx := context.Background()

	mustCreateArch(t, s, "demo", ArchitectureInput{
		Slug:           "root",
		Title:          strp("Root System"),
		AIRequirements: strp(veryLongText()),
		ChildrenSlugs:  strsp([]string{"child"}),
	})
	mustCreateArch(t, s, "demo", ArchitectureInput{
		Slug:           "child",
		Title:          strp("Child"),
		AIRequirements: strp(veryLongText()),
	})

	cs := NewContextService(s, nil)
	result, err := cs.AssembleContext(ctx, "demo", "root", 5, 2)
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if !result.Truncated {
		t.Fatalf("expected truncation under a 5-token budget")
	}
}

func TestAssembleContext_MissingSlugIsNotFound(t *testing.T) {
	s := newTestArchStore(t)
	cs := NewContextService(s, nil)
	if _, err := cs.AssembleContext(context.Background(), "demo", "missing", 4000, 2); err == nil {
		t.Fatalf("expected ErrNotFound for missing start slug")
	}
}

func veryLongText() string {
	out := make([]byte, 2000)
	for i := range out {
		out[i] = 'x'
	}
	return string(out)
}
