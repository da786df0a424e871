package paperparser

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// LayoutConfig holds the line-grouping and column-detection tunables.
type LayoutConfig struct {
	// LineTolerance is the fraction of the smaller font size within which two fragment
	// centres count as the same line.
	LineTolerance float64 `json:"line_tolerance" validate:"gt=0,lte=2"`
	// ColumnGapThreshold is the minimum horizontal gap, in points, between two clusters
	// of a line for them to be considered separate columns.
	ColumnGapThreshold float64 `json:"column_gap_threshold" validate:"gt=0"`
	// ColumnMinBands is how many lines must share a column gap before a page is split.
	ColumnMinBands int `json:"column_min_bands" validate:"gte=1"`
	// WordGapRatio is the fraction of the font size above which a space is inserted
	// between adjacent fragments.
	WordGapRatio float64 `json:"word_gap_ratio" validate:"gte=0,lte=5"`
}

// ScriptConfig holds the bilingual classification thresholds.
type ScriptConfig struct {
	// DominanceThreshold is the share of letters one script needs for a line to be
	// classified as dominated by it.
	DominanceThreshold float64 `json:"dominance_threshold" validate:"gt=0.5,lte=1"`
}

// Config bundles every pipeline tunable.
type Config struct {
	Layout LayoutConfig `json:"layout"`
	Script ScriptConfig `json:"script"`
}

// DefaultConfig returns the tunables used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Layout: LayoutConfig{
			LineTolerance:      0.5,
			ColumnGapThreshold: 36,
			ColumnMinBands:     2,
			WordGapRatio:       0.25,
		},
		Script: ScriptConfig{
			DominanceThreshold: 0.6,
		},
	}
}

var configValidator = validator.New()

// Validate checks the tunables against their allowed ranges.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid parser config: %w", err)
	}
	return nil
}
