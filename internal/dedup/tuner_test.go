package dedup

import "testing"

func TestSamplePairsBandMembership(t *testing.T) {
	// One pair per band: 0.96, 0.91, 0.86, 0.81, 0.77, 0.72.
	m := Matrix{
		{1.00, 0.96, 0.91, 0.72},
		{0.96, 1.00, 0.86, 0.81},
		{0.91, 0.86, 1.00, 0.77},
		{0.72, 0.81, 0.77, 1.00},
	}

	sampled := SamplePairs(m, nil, 5, 42)

	if len(sampled) != len(DefaultBands) {
		t.Fatalf("got %d bands, want %d", len(sampled), len(DefaultBands))
	}
	for _, band := range DefaultBands {
		pairs := sampled[band.Label]
		if len(pairs) != 1 {
			t.Errorf("band %q has %d pairs, want 1", band.Label, len(pairs))
			continue
		}
		p := pairs[0]
		if p.Similarity < band.Min || p.Similarity >= band.Max {
			t.Errorf("band %q pair similarity %f outside [%f, %f)", band.Label, p.Similarity, band.Min, band.Max)
		}
		if p.I >= p.J {
			t.Errorf("pair (%d, %d) not from the upper triangle", p.I, p.J)
		}
	}
}

func TestSamplePairsCapsPerBand(t *testing.T) {
	// Three Very High pairs among indices 0-2.
	m := Matrix{
		{1.00, 0.97, 0.96, 0.10},
		{0.97, 1.00, 0.98, 0.10},
		{0.96, 0.98, 1.00, 0.10},
		{0.10, 0.10, 0.10, 1.00},
	}

	sampled := SamplePairs(m, nil, 2, 42)
	if got := len(sampled["Very High"]); got != 2 {
		t.Errorf("Very High has %d pairs, want 2", got)
	}
}

func TestSamplePairsDeterministic(t *testing.T) {
	m := Matrix{
		{1.00, 0.97, 0.96, 0.10},
		{0.97, 1.00, 0.98, 0.10},
		{0.96, 0.98, 1.00, 0.10},
		{0.10, 0.10, 0.10, 1.00},
	}

	a := SamplePairs(m, nil, 2, 7)
	b := SamplePairs(m, nil, 2, 7)

	for label, pairsA := range a {
		pairsB := b[label]
		if len(pairsA) != len(pairsB) {
			t.Fatalf("band %q sampled %d then %d pairs", label, len(pairsA), len(pairsB))
		}
		for i := range pairsA {
			if pairsA[i] != pairsB[i] {
				t.Errorf("band %q pair %d differs between runs", label, i)
			}
		}
	}
}

func TestSamplePairsIdenticalExcluded(t *testing.T) {
	// A similarity of exactly 1.0 falls outside every band.
	m := Matrix{
		{1.0, 1.0},
		{1.0, 1.0},
	}

	sampled := SamplePairs(m, nil, 5, 42)
	for label, pairs := range sampled {
		if len(pairs) != 0 {
			t.Errorf("band %q sampled %d pairs, want none", label, len(pairs))
		}
	}
}
