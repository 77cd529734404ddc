package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := At(base)
	b := At(base.Add(time.Millisecond))
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Valid(a) || !Valid(New()) {
		t.Fatal("generated id not valid")
	}
	if Valid("not-a-ulid") || Valid("") {
		t.Fatal("garbage accepted as ulid")
	}
}
