package scoring

import "testing"

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"gumbo", "gambol", 2},
		{"straße", "strasse", 2},
		{"日本語", "日本", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			if got := Levenshtein(tt.a, tt.b); got != tt.want {
				t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Levenshtein(tt.b, tt.a); got != tt.want {
				t.Errorf("Levenshtein(%q, %q) = %d, want %d (reversed)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestCosine(t *testing.T) {
	if _, err := Cosine(nil, nil); err == nil {
		t.Error("expected error for empty vectors")
	}
	got, err := Cosine([]float32{3, 4}, []float32{6, 8})
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	if got < 0.999999 || got > 1 {
		t.Errorf("Cosine of parallel vectors = %v, want ~1", got)
	}
}
