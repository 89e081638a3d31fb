package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jaehyuksim/catsync/internal/domain"
)

var (
	multipleSpaces = regexp.MustCompile(`\s+`)
	specialChars   = regexp.MustCompile(`[^\w\s가-힣.,!?()\-]`)
)

// brandPatterns detects well-known marketplace brands in listing
// titles. Korean aliases match anywhere; Latin aliases are word-bound
// so "honda" doesn't fire inside an unrelated token.
var brandPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"YAMAHA", regexp.MustCompile(`(?i)야마하|\b(yamaha|yamha)\b`)},
	{"HONDA", regexp.MustCompile(`(?i)혼다|\b(honda)\b`)},
	{"KAWASAKI", regexp.MustCompile(`(?i)가와사키|카와사키|\b(kawasaki)\b`)},
	{"SUZUKI", regexp.MustCompile(`(?i)스즈키|\b(suzuki)\b`)},
	{"DUCATI", regexp.MustCompile(`(?i)두카티|\b(ducati)\b`)},
	{"BMW", regexp.MustCompile(`(?i)비엠더블유|\b(bmw)\b`)},
}

var modelPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"R3", regexp.MustCompile(`(?i)알삼|알쓰리|\b(r-?3|yzf-?r-?3)\b`)},
	{"R6", regexp.MustCompile(`(?i)알식|\b(r-?6|yzf-?r-?6)\b`)},
	{"CBR", regexp.MustCompile(`(?i)\b(cbr)\b`)},
	{"NINJA", regexp.MustCompile(`(?i)닌자|\b(ninja)\b`)},
}

// CleanText strips surrounding whitespace, drops special characters
// except basic punctuation and Hangul, and collapses runs of
// whitespace to a single space.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.TrimSpace(text)
	text = specialChars.ReplaceAllString(text, " ")
	text = multipleSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// NormalizePrice renders a won amount in the 억/만원 notation listings
// use. Zero or negative means the price is unknown and yields "".
func NormalizePrice(price int64) string {
	if price <= 0 {
		return ""
	}
	if price >= 100_000_000 {
		return fmt.Sprintf("%d억%d만원", price/100_000_000, (price%100_000_000)/10_000)
	}
	if price >= 10_000 {
		return fmt.Sprintf("%d만원", price/10_000)
	}
	return fmt.Sprintf("%d원", price)
}

// NormalizeOdometer renders mileage as a comma-grouped km figure.
func NormalizeOdometer(odo int64) string {
	if odo <= 0 {
		return ""
	}
	return groupDigits(odo) + "km"
}

// NormalizeYear renders a model year with the 년 suffix when it falls
// in the plausible range, bare otherwise.
func NormalizeYear(year int) string {
	if year <= 0 {
		return ""
	}
	if year >= 1900 && year <= 2030 {
		return fmt.Sprintf("%d년", year)
	}
	return strconv.Itoa(year)
}

// ExtractBrandModel detects brand and model names in a listing title.
// Either result may be empty when nothing matches.
func ExtractBrandModel(title string) (brand, model string) {
	for _, p := range brandPatterns {
		if p.re.MatchString(title) {
			brand = p.name
			break
		}
	}
	for _, p := range modelPatterns {
		if p.re.MatchString(title) {
			model = p.name
			break
		}
	}
	return brand, model
}

// CanonicalText builds the embedding input for one listing. The output
// is fully determined by the record's fields: title header with brand
// and model when both are known, then a spec segment
// (year | price | odometer), then the cleaned body. Deriving it twice
// from the same record yields byte-identical text, which keeps vector
// IDs and embeddings stable across runs.
func CanonicalText(p *domain.Product) string {
	brand, model := p.Brand, p.Model
	if brand == "" || model == "" {
		eb, em := ExtractBrandModel(strings.ToLower(p.Title))
		if brand == "" {
			brand = eb
		}
		if model == "" {
			model = em
		}
	}

	cleanTitle := CleanText(p.Title)
	cleanContent := CleanText(p.Content)

	var parts []string
	if brand != "" && model != "" {
		parts = append(parts, fmt.Sprintf("[%s %s] %s", brand, model, cleanTitle))
	} else {
		parts = append(parts, cleanTitle)
	}

	var specs []string
	if y := NormalizeYear(p.Year); y != "" {
		specs = append(specs, y)
	}
	if pr := NormalizePrice(p.Price); pr != "" {
		specs = append(specs, pr)
	}
	if o := NormalizeOdometer(p.Odometer); o != "" {
		specs = append(specs, o)
	}
	if len(specs) > 0 {
		parts = append(parts, "스펙: "+strings.Join(specs, " | "))
	}

	if cleanContent != "" {
		parts = append(parts, "상세: "+cleanContent)
	}

	text := strings.Join(parts, " ")
	return strings.TrimSpace(multipleSpaces.ReplaceAllString(text, " "))
}

func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
