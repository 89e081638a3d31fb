package service

import (
	"strings"
	"testing"

	"github.com/jaehyuksim/catsync/internal/domain"
)

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name  string
		price int64
		want  string
	}{
		{"zero means unknown", 0, ""},
		{"below a manwon", 5000, "5000원"},
		{"simple manwon", 4_500_000, "450만원"},
		{"over one eok", 123_450_000, "1억2345만원"},
		{"exact eok", 200_000_000, "2억0만원"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePrice(tt.price); got != tt.want {
				t.Errorf("NormalizePrice(%d) = %q, want %q", tt.price, got, tt.want)
			}
		})
	}
}

func TestNormalizeOdometer(t *testing.T) {
	tests := []struct {
		name string
		odo  int64
		want string
	}{
		{"zero means unknown", 0, ""},
		{"short", 800, "800km"},
		{"grouped", 12345, "12,345km"},
		{"large", 1234567, "1,234,567km"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeOdometer(tt.odo); got != tt.want {
				t.Errorf("NormalizeOdometer(%d) = %q, want %q", tt.odo, got, tt.want)
			}
		})
	}
}

func TestNormalizeYear(t *testing.T) {
	if got := NormalizeYear(2019); got != "2019년" {
		t.Errorf("expected 2019년, got %q", got)
	}
	if got := NormalizeYear(0); got != "" {
		t.Errorf("expected empty for zero year, got %q", got)
	}
	if got := NormalizeYear(3000); got != "3000" {
		t.Errorf("expected bare year outside plausible range, got %q", got)
	}
}

func TestExtractBrandModel(t *testing.T) {
	tests := []struct {
		title     string
		wantBrand string
		wantModel string
	}{
		{"야마하 r3 판매합니다", "YAMAHA", "R3"},
		{"yzf-r3 풀튜닝", "", "R3"},
		{"혼다 cbr 급처", "HONDA", "CBR"},
		{"가와사키 닌자 400", "KAWASAKI", "NINJA"},
		{"자전거 팝니다", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			brand, model := ExtractBrandModel(tt.title)
			if brand != tt.wantBrand || model != tt.wantModel {
				t.Errorf("ExtractBrandModel(%q) = (%q, %q), want (%q, %q)",
					tt.title, brand, model, tt.wantBrand, tt.wantModel)
			}
		})
	}
}

func TestCanonicalText_Structure(t *testing.T) {
	p := &domain.Product{
		Title:    "야마하 R3 판매",
		Content:  "상태 좋습니다. 네고 가능",
		Price:    4_500_000,
		Year:     2019,
		Odometer: 12345,
	}

	got := CanonicalText(p)

	if !strings.HasPrefix(got, "[YAMAHA R3] ") {
		t.Errorf("expected brand/model header, got %q", got)
	}
	if !strings.Contains(got, "스펙: 2019년 | 450만원 | 12,345km") {
		t.Errorf("expected spec segment, got %q", got)
	}
	if !strings.Contains(got, "상세: 상태 좋습니다. 네고 가능") {
		t.Errorf("expected detail segment, got %q", got)
	}
}

func TestCanonicalText_ExplicitBrandWins(t *testing.T) {
	p := &domain.Product{
		Title: "급처 바이크",
		Brand: "DUCATI",
		Model: "PANIGALE",
	}

	got := CanonicalText(p)
	if !strings.HasPrefix(got, "[DUCATI PANIGALE]") {
		t.Errorf("expected stored brand/model to take precedence, got %q", got)
	}
}

func TestCanonicalText_Deterministic(t *testing.T) {
	p := &domain.Product{
		Title:    "혼다 CBR   많이    깨끗해요!!!",
		Content:  "직거래만\t가능",
		Price:    3_000_000,
		Year:     2021,
		Odometer: 500,
	}

	first := CanonicalText(p)
	second := CanonicalText(p)
	if first != second {
		t.Errorf("canonical text is not deterministic:\n%q\n%q", first, second)
	}
	if strings.Contains(first, "  ") {
		t.Errorf("canonical text contains uncollapsed whitespace: %q", first)
	}
}

func TestCanonicalText_MissingSpecs(t *testing.T) {
	p := &domain.Product{Title: "자전거 팝니다"}

	got := CanonicalText(p)
	if strings.Contains(got, "스펙:") {
		t.Errorf("expected no spec segment without year/price/odo, got %q", got)
	}
	if strings.Contains(got, "상세:") {
		t.Errorf("expected no detail segment without content, got %q", got)
	}
	if got != "자전거 팝니다" {
		t.Errorf("expected bare cleaned title, got %q", got)
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  특가!! ★급처★  연락주세요~~  ")
	if strings.ContainsAny(got, "★~") {
		t.Errorf("expected special characters removed, got %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("expected trimmed output, got %q", got)
	}
}
