package format

import "testing"

func TestOrDefault(t *testing.T) {
	blank, set := "  ", "passwords"
	if got := OrDefault(nil, "no data"); got != "no data" {
		t.Fatalf("nil -> %q", got)
	}
	if got := OrDefault(&blank, "no data"); got != "no data" {
		t.Fatalf("blank -> %q", got)
	}
	if got := OrDefault(&set, "no data"); got != "passwords" {
		t.Fatalf("set -> %q", got)
	}
}
