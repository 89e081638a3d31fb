package domain

import "strings"

// categoryKeywords maps lowercase substrings of an error message to a
// category. First match wins, in the order listed here.
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{ErrorCategoryRateLimit, []string{"rate limit", "429", "too many requests", "quota"}},
	{ErrorCategoryAuthentication, []string{"unauthorized", "401", "403", "forbidden", "api key", "authentication"}},
	{ErrorCategoryDatabase, []string{"database", "sql", "constraint", "deadlock", "duplicate key", "sqlite", "postgres"}},
	{ErrorCategoryNetwork, []string{"connection", "timeout", "dial", "refused", "reset", "unreachable", "eof", "dns"}},
	{ErrorCategoryValidation, []string{"invalid", "validation", "required", "malformed", "unsupported"}},
}

// Categorize buckets an error by message keywords and assigns a
// severity. Rate-limit and network errors are transient (low/medium);
// database and authentication errors need immediate attention (high);
// validation errors are medium because the record itself needs fixing
// and retrying cannot help.
func Categorize(err error) (ErrorCategory, ErrorSeverity) {
	if err == nil {
		return ErrorCategoryUnknown, SeverityLow
	}
	msg := strings.ToLower(err.Error())

	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category, severityFor(entry.category)
			}
		}
	}
	return ErrorCategoryUnknown, SeverityMedium
}

func severityFor(c ErrorCategory) ErrorSeverity {
	switch c {
	case ErrorCategoryRateLimit:
		return SeverityLow
	case ErrorCategoryNetwork:
		return SeverityMedium
	case ErrorCategoryDatabase:
		return SeverityHigh
	case ErrorCategoryValidation:
		return SeverityMedium
	case ErrorCategoryAuthentication:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
