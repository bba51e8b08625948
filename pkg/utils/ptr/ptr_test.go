package ptr

import "testing"

func TestDeref(t *testing.T) {
	if got := Deref(To(3), 7); got != 3 {
		t.Fatalf("Deref(To(3), 7) = %d", got)
	}
	var p *string
	if got := Deref(p, "default"); got != "default" {
		t.Fatalf("Deref(nil) = %q", got)
	}
}
