package schema

import (
	"testing"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

func TestDefaultRegistryDescribesAllKinds(t *testing.T) {
	r := Default()
	for _, k := range common.AllKinds() {
		d, ok := r.Describe(k)
		if !ok {
			t.Fatalf("kind %s not described", k)
		}
		if d.ResponseKey != k.ResponseKey() {
			t.Fatalf("kind %s: response key %q, want %q", k, d.ResponseKey, k.ResponseKey())
		}
		if !d.IsRequired("name") {
			t.Fatalf("kind %s must require name", k)
		}
		if len(d.MergeKey) != 3 {
			t.Fatalf("kind %s: merge key %v", k, d.MergeKey)
		}
	}
}

func TestDescribeReturnsCopy(t *testing.T) {
	r := Default()
	d, _ := r.Describe(common.KindEmotion)
	d.Categories[0] = "Mutated"
	d.Required[0].Name = "mutated"

	again, _ := r.Describe(common.KindEmotion)
	if again.Categories[0] != "Anxiety" {
		t.Fatalf("registry categories were mutated: %v", again.Categories)
	}
	if again.Required[0].Name != "name" {
		t.Fatalf("registry fields were mutated: %v", again.Required)
	}
}

func TestDescribeUnknownKind(t *testing.T) {
	if _, ok := Default().Describe(common.ElementKind("mood")); ok {
		t.Fatal("expected unknown kind to be missing")
	}
}

func TestNewRegistryRejectsIncompleteSets(t *testing.T) {
	descs := DefaultDescriptors()

	if _, err := NewRegistry(nil, descs[:4]...); err == nil {
		t.Fatal("expected error for missing kind")
	}
	if _, err := NewRegistry(nil, append(descs, descs[0])...); err == nil {
		t.Fatal("expected error for duplicate kind")
	}

	noName := DefaultDescriptors()
	noName[2].Required = nil
	if _, err := NewRegistry(nil, noName...); err == nil {
		t.Fatal("expected error for kind without required name")
	}
}

func TestDescriptorFieldLookup(t *testing.T) {
	d, _ := Default().Describe(common.KindEmotion)

	f, ok := d.Field("intensity")
	if !ok {
		t.Fatal("intensity field missing")
	}
	if f.Min != 0 || f.Max != 5 {
		t.Fatalf("intensity bounds = [%v,%v], want [0,5]", f.Min, f.Max)
	}

	if c, ok := d.Category("  anxiety "); !ok || c != "Anxiety" {
		t.Fatalf("Category() = %q, %v", c, ok)
	}
	if _, ok := d.Category("boredom"); ok {
		t.Fatal("unexpected category match")
	}
}
