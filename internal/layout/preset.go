// Package layout loads pane layouts from a YAML preset file and applies them
// to the indicator store.
package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"chartind/internal/indicator"
	"chartind/internal/model"
)

// Preset is the root of a layout preset file:
//
//	panes:
//	  - id: candle_pane
//	    indicators:
//	      - name: MA
//	        calc_params: [5, 10, 30]
//	  - id: vol_pane
//	    indicators:
//	      - name: VOL
//	        stack: false
type Preset struct {
	Panes []PanePreset `yaml:"panes"`
}

// PanePreset lists the indicators wanted on one pane.
type PanePreset struct {
	ID         string            `yaml:"id"`
	Indicators []IndicatorPreset `yaml:"indicators"`
}

// IndicatorPreset configures one instance. Unset fields keep the template
// defaults.
type IndicatorPreset struct {
	Name       string         `yaml:"name"`
	Stack      *bool          `yaml:"stack,omitempty"` // default true
	CalcParams []float64      `yaml:"calc_params,omitempty"`
	ShortName  string         `yaml:"short_name,omitempty"`
	Series     string         `yaml:"series,omitempty"`
	Precision  *int           `yaml:"precision,omitempty"`
	MinValue   *float64       `yaml:"min_value,omitempty"`
	MaxValue   *float64       `yaml:"max_value,omitempty"`
	Visible    *bool          `yaml:"visible,omitempty"`
	Styles     map[string]any `yaml:"styles,omitempty"`
}

// Load reads and parses the preset at path.
func Load(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset: %w", err)
	}
	return Parse(data)
}

// Parse decodes a preset document and checks its structure.
func Parse(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse preset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks pane ids and indicator names are present and unique.
func (p *Preset) Validate() error {
	var errs []error
	panes := make(map[string]bool, len(p.Panes))
	for i, pane := range p.Panes {
		if pane.ID == "" {
			errs = append(errs, fmt.Errorf("panes[%d]: id is required", i))
			continue
		}
		if panes[pane.ID] {
			errs = append(errs, fmt.Errorf("pane %q listed twice", pane.ID))
		}
		panes[pane.ID] = true

		names := make(map[string]bool, len(pane.Indicators))
		for j, ind := range pane.Indicators {
			if ind.Name == "" {
				errs = append(errs, fmt.Errorf("pane %q indicators[%d]: name is required", pane.ID, j))
				continue
			}
			if names[ind.Name] {
				errs = append(errs, fmt.Errorf("pane %q: indicator %q listed twice", pane.ID, ind.Name))
			}
			names[ind.Name] = true
			if _, err := model.ParseSeries(ind.Series); err != nil {
				errs = append(errs, fmt.Errorf("pane %q indicator %q: %w", pane.ID, ind.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Config converts the preset entry into a store patch.
func (ip IndicatorPreset) Config() indicator.Config {
	cfg := indicator.Config{Name: ip.Name, Styles: ip.Styles}
	if ip.CalcParams != nil {
		cfg.CalcParams = indicator.Some(ip.CalcParams)
	}
	if ip.ShortName != "" {
		cfg.ShortName = indicator.Some(ip.ShortName)
	}
	if ip.Series != "" {
		s, _ := model.ParseSeries(ip.Series)
		cfg.Series = indicator.Some(s)
	}
	if ip.Precision != nil {
		cfg.Precision = indicator.Some(*ip.Precision)
	}
	if ip.MinValue != nil {
		cfg.MinValue = indicator.Some(ip.MinValue)
	}
	if ip.MaxValue != nil {
		cfg.MaxValue = indicator.Some(ip.MaxValue)
	}
	if ip.Visible != nil {
		cfg.Visible = indicator.Some(*ip.Visible)
	}
	return cfg
}

func (ip IndicatorPreset) stack() bool {
	return ip.Stack == nil || *ip.Stack
}

// Result counts what Apply did.
type Result struct {
	Added      int
	Overridden int
	Removed    int
	Failed     int
}

// Apply brings the store in line with p. Missing instances are added, existing
// ones are overridden (recomputing only when their params changed). With
// prune, instances on a preset pane that the preset no longer lists are
// removed; panes the preset does not mention are never touched. Failures
// are collected and do not stop the remaining entries.
func Apply(ctx context.Context, store *indicator.Store, p *Preset, prune bool) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for _, pane := range p.Panes {
		wanted := make(map[string]bool, len(pane.Indicators))
		for _, ip := range pane.Indicators {
			wanted[ip.Name] = true
			cfg := ip.Config()

			if _, exists := store.Instance(pane.ID, ip.Name); exists {
				out, err := store.Override(ctx, cfg, pane.ID)
				if err != nil || !out.OK() {
					res.Failed++
					errs = append(errs, fmt.Errorf("override %s on %s: %w", ip.Name, pane.ID, errOrCalc(err)))
					continue
				}
				if out.Changed {
					res.Overridden++
				}
				continue
			}

			ok, err := store.AddInstance(ctx, pane.ID, cfg, ip.stack())
			if err != nil || !ok {
				res.Failed++
				errs = append(errs, fmt.Errorf("add %s on %s: %w", ip.Name, pane.ID, errOrCalc(err)))
				if errors.Is(err, indicator.ErrUnknownTemplate) {
					continue
				}
			}
			if _, exists := store.Instance(pane.ID, ip.Name); exists {
				res.Added++
			}
		}

		if !prune {
			continue
		}
		for name := range store.Instances(pane.ID) {
			if !wanted[name] && store.RemoveInstance(pane.ID, name) {
				res.Removed++
			}
		}
	}

	slog.Default().Info("preset applied",
		slog.String("component", "layout"),
		slog.Int("added", res.Added),
		slog.Int("overridden", res.Overridden),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}

func errOrCalc(err error) error {
	if err != nil {
		return err
	}
	return indicator.ErrCalcFailed
}
