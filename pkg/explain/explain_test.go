package explain

import (
	"bytes"
	"encoding/json"
	"image/png"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

func TestBuildRanksByAbsoluteContribution(t *testing.T) {
	features := map[string]float64{
		"proof_count":    0.10,
		"recency":        -0.45,
		"kind_weight":    0.40,
		"energy_bonus":   0.30,
		"geo_hint":       0.05,
		"actor_history":  -0.20,
		"evidence_count": 0.15,
	}

	e := Build("abc123", "drp-policy", "1.2.0", "approved", 0.91, features, fixedNow)

	if e.Method != MethodFeatureImportance {
		t.Errorf("method = %q", e.Method)
	}
	if len(e.TopFactors) != 5 {
		t.Fatalf("top factors = %d, want 5", len(e.TopFactors))
	}
	wantOrder := []string{"recency", "kind_weight", "energy_bonus", "actor_history", "evidence_count"}
	for i, want := range wantOrder {
		if e.TopFactors[i].Feature != want {
			t.Errorf("factor %d = %q, want %q", i, e.TopFactors[i].Feature, want)
		}
	}
	if e.GeneratedAt != "2025-01-05T12:00:00Z" {
		t.Errorf("generated_at = %q", e.GeneratedAt)
	}
}

func TestBuildTieBreaksOnName(t *testing.T) {
	features := map[string]float64{
		"zeta":  0.5,
		"alpha": -0.5,
		"mid":   0.5,
	}
	e := Build("id", "m", "1.0.0", "flagged", 0.5, features, fixedNow)

	wantOrder := []string{"alpha", "mid", "zeta"}
	for i, want := range wantOrder {
		if e.TopFactors[i].Feature != want {
			t.Errorf("factor %d = %q, want %q (ties break on name)", i, e.TopFactors[i].Feature, want)
		}
	}
}

func TestBuildEmptyFeatures(t *testing.T) {
	e := Build("id", "m", "1.0.0", "denied", 0.2, nil, fixedNow)
	if len(e.TopFactors) != 0 {
		t.Errorf("top factors = %v, want none", e.TopFactors)
	}

	// The document still serializes cleanly.
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"top_factors":[]`)) {
		t.Errorf("serialized form = %s, want empty top_factors array", raw)
	}
}

func TestBuildDeterministic(t *testing.T) {
	features := map[string]float64{"a": 0.3, "b": -0.3, "c": 0.1}
	e1 := Build("id", "m", "1.0.0", "approved", 0.9, features, fixedNow)
	e2 := Build("id", "m", "1.0.0", "approved", 0.9, features, fixedNow)

	r1, _ := json.Marshal(e1)
	r2, _ := json.Marshal(e2)
	if !bytes.Equal(r1, r2) {
		t.Error("same inputs must produce identical documents")
	}
}

func TestProofStubThreshold(t *testing.T) {
	cases := []struct {
		confidence float64
		valid      bool
	}{
		{0.91, true},
		{0.80, true},
		{0.79, false},
		{0.0, false},
	}
	for _, tc := range cases {
		stub := BuildProofStub("abc123", tc.confidence, fixedNow)
		if stub.Valid != tc.valid {
			t.Errorf("confidence %.2f: valid = %v, want %v", tc.confidence, stub.Valid, tc.valid)
		}
		if stub.Type != "confidence_threshold" || stub.Threshold != ConfidenceThreshold {
			t.Errorf("stub = %+v, want confidence_threshold at %.2f", stub, ConfidenceThreshold)
		}
		if stub.TS != "2025-01-05T12:00:00Z" {
			t.Errorf("ts = %q", stub.TS)
		}
	}
}

func TestRenderChartProducesPNG(t *testing.T) {
	e := Build("id", "m", "1.0.0", "approved", 0.9,
		map[string]float64{"kind_weight": 0.4, "recency": -0.1}, fixedNow)

	blob, err := RenderChart(e)
	if err != nil {
		t.Fatalf("RenderChart: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != chartWidth {
		t.Errorf("width = %d, want %d", bounds.Dx(), chartWidth)
	}
	wantHeight := 2*chartMargin + 2*rowHeight + rowGap
	if bounds.Dy() != wantHeight {
		t.Errorf("height = %d, want %d for 2 factors", bounds.Dy(), wantHeight)
	}
}

func TestRenderChartGrowsWithFactors(t *testing.T) {
	two := Build("id", "m", "1.0.0", "approved", 0.9,
		map[string]float64{"a": 0.4, "b": -0.1}, fixedNow)
	five := Build("id", "m", "1.0.0", "approved", 0.9,
		map[string]float64{"a": 0.4, "b": -0.1, "c": 0.2, "d": 0.05, "e": -0.3}, fixedNow)

	blobTwo, err := RenderChart(two)
	if err != nil {
		t.Fatalf("two factors: %v", err)
	}
	blobFive, err := RenderChart(five)
	if err != nil {
		t.Fatalf("five factors: %v", err)
	}

	imgTwo, _ := png.Decode(bytes.NewReader(blobTwo))
	imgFive, _ := png.Decode(bytes.NewReader(blobFive))
	if imgFive.Bounds().Dy() <= imgTwo.Bounds().Dy() {
		t.Error("more factors must produce a taller chart")
	}
}

func TestRenderChartRefusesEmpty(t *testing.T) {
	e := Build("id", "m", "1.0.0", "denied", 0.2, nil, fixedNow)
	if _, err := RenderChart(e); err == nil {
		t.Fatal("expected refusal for an explanation without factors")
	}
}
