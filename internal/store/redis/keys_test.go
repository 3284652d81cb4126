package redis

import "testing"

func TestKeys(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		wantEntry string
		wantAll   string
	}{
		{name: "default prefix", prefix: "", wantEntry: "swarmdns:catalog:entry:grafana", wantAll: "swarmdns:catalog:ids"},
		{name: "custom prefix", prefix: "lab:", wantEntry: "lab:catalog:entry:grafana", wantAll: "lab:catalog:ids"},
		{name: "prefix without colon", prefix: "lab", wantEntry: "lab:catalog:entry:grafana", wantAll: "lab:catalog:ids"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewKeys(tt.prefix)
			if got := k.Entry("grafana"); got != tt.wantEntry {
				t.Errorf("Entry() = %q, want %q", got, tt.wantEntry)
			}
			if got := k.All(); got != tt.wantAll {
				t.Errorf("All() = %q, want %q", got, tt.wantAll)
			}
		})
	}
}

func TestEntryKeysNeverCollideWithIDSet(t *testing.T) {
	k := NewKeys("")
	for _, id := range []string{"all", "ids", "entry"} {
		if k.Entry(id) == k.All() {
			t.Errorf("Entry(%q) collides with the id set", id)
		}
	}
}

func TestEntryID(t *testing.T) {
	k := NewKeys("")

	id, err := k.EntryID("swarmdns:catalog:entry:nas-admin")
	if err != nil || id != "nas-admin" {
		t.Errorf("EntryID() = %q, %v", id, err)
	}

	for _, bad := range []string{"swarmdns:catalog:entry:", "swarmdns:catalog:ids", "other:catalog:entry:x", "x"} {
		if _, err := k.EntryID(bad); err == nil {
			t.Errorf("EntryID(%q) should fail", bad)
		}
	}
}
