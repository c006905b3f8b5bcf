package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatal("expected non-nil empty map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if _, ok := base["baz"]; ok {
		t.Fatalf("expected base map to remain unchanged")
	}

	merged := enriched.WithAll(Metadata{"alpha": "beta"})
	if merged["alpha"] != "beta" || merged["baz"] != "qux" {
		t.Fatalf("unexpected merged metadata %#v", merged)
	}
}

func TestNewIgnoresDanglingKey(t *testing.T) {
	md := New("key", "value", "dangling")
	if md["key"] != "value" {
		t.Fatalf("expected key to be set")
	}
	if _, ok := md["dangling"]; ok {
		t.Fatalf("expected dangling key to be dropped")
	}
}

func TestForEvent(t *testing.T) {
	md := ForEvent("front-desk", "kinect.presence")

	want := map[string]string{
		KeySensorName:    "front-desk",
		KeyEventType:     "kinect.presence",
		KeyCEType:        "kinect.presence",
		KeyCESource:      "sensor/front-desk",
		KeyCESpecVersion: "1.0",
	}
	for k, v := range want {
		if md[k] != v {
			t.Errorf("%s = %q, want %q", k, md[k], v)
		}
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{KeySensorName: "lab-1"}
	wm := ToWatermill(md)
	if wm[KeySensorName] != "lab-1" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm[KeySensorName] = "mutation"
	if md[KeySensorName] != "lab-1" {
		t.Fatalf("expected original metadata to be immutable to watermill changes")
	}

	if len(ToWatermill(nil)) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}

	roundTrip := FromWatermill(message.Metadata{KeyEventType: "kinect.depth"})
	if roundTrip[KeyEventType] != "kinect.depth" {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if md := FromWatermill(nil); md == nil || len(md) != 0 {
		t.Fatal("expected non-nil empty map")
	}
}
