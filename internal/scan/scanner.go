package scan

import (
	"log/slog"
	"sort"

	"github.com/pygate/pygate/internal/types"
)

// Scanner defines the interface for static source scanning
type Scanner interface {
	// Scan runs the full prescan + AST scan over one candidate source
	// string and returns the union of findings sorted by line
	Scan(source string) []types.Finding
}

// StaticScanner implements Scanner. Scanning is synchronous and CPU-bound,
// performs no I/O and holds no mutable state beyond the options provider,
// so concurrent scans are independent.
type StaticScanner struct {
	logger *slog.Logger
	opts   func() Options
}

// NewStaticScanner creates a scanner. opts is called at the start of each
// scan so a config reload takes effect without rebuilding the scanner.
func NewStaticScanner(logger *slog.Logger, opts func() Options) *StaticScanner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		opts = func() Options { return Options{} }
	}
	return &StaticScanner{logger: logger, opts: opts}
}

// Scan runs the prescanner over the raw text, then the AST scanner, and
// unions the findings. The prescan always runs first: magic directives and
// shell escapes are invisible to the Python parser. A CRITICAL prescan
// finding ends the scan there; the verdict cannot improve and the raw text
// may not even be Python.
func (s *StaticScanner) Scan(source string) []types.Finding {
	opts := s.opts()

	findings := ScanIPython(source)
	if !hasCritical(findings) {
		findings = append(findings, ScanAST(source, opts)...)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].RuleID < findings[j].RuleID
	})

	if len(findings) > 0 {
		s.logger.Debug("scan produced findings",
			"count", len(findings),
			"first_rule", findings[0].RuleID,
			"first_line", findings[0].Line)
	}

	return findings
}

func hasCritical(findings []types.Finding) bool {
	for _, f := range findings {
		if f.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}
