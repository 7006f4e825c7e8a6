package cart

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetAddsUpdatesAndRemoves(t *testing.T) {
	var c Cart
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 5)

	want := []Item{{ProductID: "a", Quantity: 5}, {ProductID: "b", Quantity: 2}}
	if diff := cmp.Diff(want, c.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}

	c.Set("a", 0)
	if c.Quantity("a") != 0 || c.Quantity("b") != 2 {
		t.Fatalf("unexpected items after removal: %+v", c.Items)
	}

	c.Set("missing", 0)
	if len(c.Items) != 1 {
		t.Fatalf("removing a missing product changed the cart: %+v", c.Items)
	}
}
