// Package css scans stylesheets stripped from book sections. Foreign styles
// are never applied - the renderer supplies its own - but a few properties
// carry layout semantics the reader must not lose, and url() references tell
// us which archive resources the stylesheet pulled in.
package css

import (
	"bytes"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	cssparse "github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Hints is what survives of a stripped stylesheet.
type Hints struct {
	// Vertical is set when the stylesheet requests vertical text flow
	// (writing-mode: vertical-rl/vertical-lr), common for CJK fiction.
	Vertical bool
	// RightToLeft is set when the stylesheet requests rtl direction.
	RightToLeft bool
	// URLs lists url() references found in the stylesheet, in order of
	// appearance, duplicates removed.
	URLs []string
}

// Merge folds another stylesheet's hints into h.
func (h *Hints) Merge(other Hints) {
	h.Vertical = h.Vertical || other.Vertical
	h.RightToLeft = h.RightToLeft || other.RightToLeft
	seen := make(map[string]struct{}, len(h.URLs))
	for _, u := range h.URLs {
		seen[u] = struct{}{}
	}
	for _, u := range other.URLs {
		if _, ok := seen[u]; !ok {
			h.URLs = append(h.URLs, u)
			seen[u] = struct{}{}
		}
	}
}

// Scan extracts layout hints and resource references from CSS text.
// Parse errors terminate the scan silently - a broken foreign stylesheet is
// not worth failing a section over.
func Scan(data []byte, log *zap.Logger) Hints {
	var hints Hints
	seen := make(map[string]struct{})

	input := parse.NewInput(bytes.NewReader(data))
	parser := cssparse.NewParser(input, false)

	for {
		gt, _, propData := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			if err := parser.Err(); err != nil && err.Error() != "EOF" {
				log.Debug("CSS parse error while scanning stripped stylesheet", zap.Error(err))
			}
			return hints
		case cssparse.DeclarationGrammar, cssparse.CustomPropertyGrammar:
			prop := strings.ToLower(string(propData))
			var value strings.Builder
			for _, val := range parser.Values() {
				if val.TokenType == cssparse.URLToken {
					if u := unwrapURL(val.Data); u != "" {
						if _, ok := seen[u]; !ok {
							hints.URLs = append(hints.URLs, u)
							seen[u] = struct{}{}
						}
					}
				}
				value.Write(val.Data)
			}
			applyDeclaration(&hints, prop, strings.ToLower(strings.TrimSpace(value.String())))
		}
	}
}

func applyDeclaration(hints *Hints, prop, value string) {
	switch prop {
	case "writing-mode", "-epub-writing-mode", "-webkit-writing-mode":
		if strings.HasPrefix(value, "vertical-") {
			hints.Vertical = true
		}
	case "direction":
		if value == "rtl" {
			hints.RightToLeft = true
		}
	}
}

// unwrapURL strips the url( ... ) wrapper and optional quotes from a URL
// token.
func unwrapURL(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ")")
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if strings.HasPrefix(s, "data:") {
		return ""
	}
	return s
}
