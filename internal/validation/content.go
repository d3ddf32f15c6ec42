package validation

import "regexp"

const eventNames = `(?:abort|animation\w*|blur|change|click|contextmenu|copy|cut|dblclick|drag\w*|drop|error|focus\w*|input|key\w+|load|mouse\w+|paste|pointer\w+|reset|resize|scroll|select|submit|touch\w+|transition\w*|unload|wheel)`

// ContentScanner looks for markup and script injection markers in free text
type ContentScanner struct {
	patterns []marker
	keyEvent *regexp.Regexp
}

type marker struct {
	name string
	re   *regexp.Regexp
}

// NewContentScanner creates a scanner with the built-in marker set
func NewContentScanner() *ContentScanner {
	return &ContentScanner{
		patterns: []marker{
			{"markup tag", regexp.MustCompile(`</?[a-zA-Z!?]`)},
			{"script uri", regexp.MustCompile(`(?i)\b(?:java|vb|live)script\s*:`)},
			{"script uri", regexp.MustCompile(`(?i)\bdata\s*:\s*text/html`)},
			{"event handler", regexp.MustCompile(`(?i)\bon` + eventNames + `\s*=`)},
			{"dynamic eval", regexp.MustCompile(`(?i)\b(?:eval|setTimeout|setInterval|execScript)\s*\(`)},
			{"dynamic eval", regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`)},
			{"dynamic eval", regexp.MustCompile(`(?i)\bdocument\s*\.\s*write(?:ln)?\s*\(`)},
		},
		keyEvent: regexp.MustCompile(`(?i)^on` + eventNames + `$`),
	}
}

// Scan returns the name of the first marker found in s, or ""
func (s *ContentScanner) Scan(text string) string {
	if text == "" {
		return ""
	}
	for _, m := range s.patterns {
		if m.re.MatchString(text) {
			return m.name
		}
	}
	return ""
}

// ScanKey checks a config key. Keys shaped like inline event handlers
// (onClick, onload) are rejected in addition to the value markers.
func (s *ContentScanner) ScanKey(key string) string {
	if s.keyEvent.MatchString(key) {
		return "event handler"
	}
	return s.Scan(key)
}
