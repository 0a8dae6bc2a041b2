package pricing

import "testing"

func TestEstimateCost_KnownModel(t *testing.T) {
	cost := EstimateCost("gpt-4o", 1000, 500)
	if cost < 0.007 || cost > 0.008 {
		t.Fatalf("expected ~0.0075, got %f", cost)
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	cost := EstimateCost("unknown-model-xyz", 1000, 500)
	if cost != 0.0 {
		t.Fatalf("expected 0.0 for unknown model, got %f", cost)
	}
}

func TestEstimateCost_DatedSuffix(t *testing.T) {
	want := EstimateCost("gpt-4o-mini", 1000000, 1000000)
	got := EstimateCost("gpt-4o-mini-2024-07-18", 1000000, 1000000)
	if got != want {
		t.Fatalf("expected %f for dated model, got %f", want, got)
	}
}
