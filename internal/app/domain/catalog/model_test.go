package catalog

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Blue T-Shirt":          "blue-t-shirt",
		"  Café  Crème 250g ":   "caf-cr-me-250g",
		"---":                   "",
		"Mug (Large) / 500 ml!": "mug-large-500-ml",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInStock(t *testing.T) {
	p := Product{Active: true, Stock: 3}
	if !p.InStock(3) {
		t.Fatalf("expected 3 units in stock")
	}
	if p.InStock(4) || p.InStock(0) {
		t.Fatalf("unexpected stock result")
	}
	p.Active = false
	if p.InStock(1) {
		t.Fatalf("inactive products are never in stock")
	}
}
