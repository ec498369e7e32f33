package catalog

import (
	"context"
	"errors"
	"testing"
)

func sampleEntries() []CodeEntry {
	return []CodeEntry{
		{Code: "A01", Term: "Fever", System: "NAMASTE"},
		{Code: "A02", Term: "Cough with phlegm", System: "namaste"},
		{Code: "R50.9", Term: "Fever, unspecified", System: "ICD-11"},
		{Code: "TM2.01", Term: "Heat pattern", System: "TM2"},
		{Code: "B-100", Term: "Pyrexia", System: "BIO-SNOMED"},
	}
}

func TestNew_CoercesAndRejects(t *testing.T) {
	c := New([]CodeEntry{
		{Code: " A01 ", Term: " Fever ", System: " namaste "},
		{Code: "", Term: "No code", System: "NAMASTE"},
		{Code: "X1", Term: "No system", System: ""},
		{Code: "a01", Term: "Duplicate", System: "NAMASTE"},
	})
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	if c.Rejected() != 3 {
		t.Errorf("expected 3 rejected, got %d", c.Rejected())
	}
	e := c.All()[0]
	if e.Code != "A01" || e.Term != "Fever" || e.System != "NAMASTE" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestCatalog_Find_CaseInsensitive(t *testing.T) {
	c := New(sampleEntries())
	e, ok := c.Find("icd-11", "r50.9")
	if !ok {
		t.Fatal("expected to find R50.9")
	}
	if e.Code != "R50.9" {
		t.Errorf("expected R50.9, got %s", e.Code)
	}
	if _, ok := c.Find("TM2", "A01"); ok {
		t.Error("expected miss for code under wrong system")
	}
}

func TestCatalog_Pools(t *testing.T) {
	c := New(sampleEntries())
	src, dst := c.Pools(ToClassification)
	if len(src) != 2 || len(dst) != 3 {
		t.Fatalf("toClassification pools: got %d/%d", len(src), len(dst))
	}
	src, dst = c.Pools(ToSource)
	if len(src) != 3 || len(dst) != 2 {
		t.Fatalf("toSource pools: got %d/%d", len(src), len(dst))
	}
	if src[2].System != "BIO-SNOMED" {
		t.Errorf("expected BIO* entry in classifications, got %s", src[2].System)
	}
}

func TestCatalog_Search(t *testing.T) {
	c := New(sampleEntries())
	if got := c.Search("fever", ""); len(got) != 2 {
		t.Errorf("expected 2 fever matches, got %d", len(got))
	}
	if got := c.Search("fever", "icd-11"); len(got) != 1 || got[0].Code != "R50.9" {
		t.Errorf("unexpected system-filtered search %+v", got)
	}
	if got := c.Search("", ""); len(got) != 5 {
		t.Errorf("empty query should match all, got %d", len(got))
	}
	if got := c.Search("b-1", ""); len(got) != 1 {
		t.Errorf("expected code substring match, got %d", len(got))
	}
}

func TestCatalog_All_ReturnsCopy(t *testing.T) {
	c := New(sampleEntries())
	all := c.All()
	all[0].Term = "changed"
	if c.All()[0].Term != "Fever" {
		t.Error("All must not expose internal storage")
	}
}

func TestParseDirection(t *testing.T) {
	if ParseDirection("toSource") != ToSource {
		t.Error("expected toSource")
	}
	if ParseDirection("") != ToClassification {
		t.Error("expected default toClassification")
	}
	if ParseDirection("bogus") != ToClassification {
		t.Error("expected fallback toClassification")
	}
}

type fakeIndex struct {
	set map[string]bool
	err error
}

func (f *fakeIndex) MappedSources(ctx context.Context) (map[string]bool, error) {
	return f.set, f.err
}

func TestService_DerivesMapped(t *testing.T) {
	idx := &fakeIndex{set: map[string]bool{MappedKey("NAMASTE", "A01"): true}}
	svc := NewStaticService(New(sampleEntries()), idx)

	results, err := svc.Search(context.Background(), "", "NAMASTE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Mapped || results[1].Mapped {
		t.Errorf("unexpected mapped flags %+v", results)
	}

	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Total != 5 || st.Mapped != 1 || st.BySystem["NAMASTE"] != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestService_Lookup(t *testing.T) {
	svc := NewStaticService(New(sampleEntries()), nil)
	if _, err := svc.Lookup(context.Background(), "TM2", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	e, err := svc.Lookup(context.Background(), "tm2", "tm2.01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Term != "Heat pattern" {
		t.Errorf("unexpected entry %+v", e)
	}
	if _, err := svc.Lookup(context.Background(), "", "A01"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("expected ErrInvalidRef, got %v", err)
	}
}

func TestService_IndexErrorPropagates(t *testing.T) {
	svc := NewStaticService(New(sampleEntries()), &fakeIndex{err: errors.New("disk gone")})
	if _, err := svc.Search(context.Background(), "", ""); err == nil {
		t.Error("expected error from mapped index")
	}
}
