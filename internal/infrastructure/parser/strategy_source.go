package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"CreatorScanner/internal/config"
	"CreatorScanner/internal/ports"
	"CreatorScanner/internal/scanner"
)

// StrategySource binds config-defined sources to registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
}

var _ ports.TargetSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// Targets resolves the strategy of every configured source. Sources without
// an explicit scanner use the HTML strategy.
func (s *StrategySource) Targets() ([]scanner.Target, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	targets := make([]scanner.Target, 0, len(s.sources))
	for _, src := range s.sources {
		name := strings.TrimSpace(src.Scanner)
		if name == "" {
			name = htmlScannerName
		}
		strategy, err := s.registry.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("source %s/%s: %w", src.Platform, src.ID, err)
		}

		s.debug("bind source", "platform", src.Platform, "source", src.ID, "scanner", name)
		targets = append(targets, scanner.Target{
			Source: scanner.Source{
				Platform: strings.TrimSpace(src.Platform),
				NativeID: strings.TrimSpace(src.ID),
				Name:     src.Name,
				URL:      src.URL,
				Options:  src.Options,
			},
			Scanner: strategy,
		})
	}
	return targets, nil
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
