// Package planfile reads batches of taxonomy edits from YAML or TOML files.
package planfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/housing-affordability/cetree/modules/taxonomy/domain/forest"
	"github.com/housing-affordability/cetree/modules/taxonomy/services"
)

const (
	OpReorder = "reorder"
	OpRename  = "rename"
	OpMove    = "move"
	OpInsert  = "insert"
	OpDelete  = "delete"
)

type Attrs struct {
	Description    string `yaml:"description" toml:"description"`
	StageID        string `yaml:"stage_id" toml:"stage_id"`
	Unit           string `yaml:"unit" toml:"unit"`
	Cadence        string `yaml:"cadence" toml:"cadence"`
	Notes          string `yaml:"notes" toml:"notes"`
	Assumptions    string `yaml:"assumptions" toml:"assumptions"`
	UniformatCode  string `yaml:"uniformat_code" toml:"uniformat_code"`
	Estimate       string `yaml:"estimate" toml:"estimate" validate:"omitempty,numeric"`
	AnnualEstimate string `yaml:"annual_estimate" toml:"annual_estimate" validate:"omitempty,numeric"`
}

// Entry is one edit. Identifiers always refer to nodes as they were before
// the file was applied.
type Entry struct {
	Op       string   `yaml:"op" toml:"op" validate:"required,oneof=reorder rename move insert delete"`
	ID       string   `yaml:"id" toml:"id" validate:"required_if=Op rename,required_if=Op move,required_if=Op delete"`
	Parent   string   `yaml:"parent" toml:"parent" validate:"required_if=Op reorder,required_if=Op move,required_if=Op insert"`
	Depth    int      `yaml:"depth" toml:"depth" validate:"gte=0,lte=6"`
	Order    []string `yaml:"order" toml:"order" validate:"required_if=Op reorder,dive,required"`
	Name     string   `yaml:"name" toml:"name" validate:"required_if=Op rename,required_if=Op insert"`
	Position int      `yaml:"position" toml:"position" validate:"gte=0"`
	Cascade  bool     `yaml:"cascade" toml:"cascade"`
	Attrs    Attrs    `yaml:"attrs" toml:"attrs"`
}

type File struct {
	Name    string  `yaml:"name" toml:"name"`
	Notes   string  `yaml:"notes" toml:"notes"`
	Entries []Entry `yaml:"steps" toml:"steps" validate:"dive"`
}

type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return 0, fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
	}
}

func Load(path string) (*File, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, format)
}

// Decode parses and validates a plan. Unknown keys are errors, since a
// misspelt "cascade" would otherwise silently change what gets deleted.
func Decode(r io.Reader, format Format) (*File, error) {
	var out File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&out); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode yaml plan: %w", err)
		}
	case FormatTOML:
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		md, err := toml.NewDecoder(bytes.NewReader(b)).Decode(&out)
		if err != nil {
			return nil, fmt.Errorf("decode toml plan: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml plan: unknown key %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unknown plan format %d", format)
	}
	for i := range out.Entries {
		out.Entries[i].Op = strings.ToLower(strings.TrimSpace(out.Entries[i].Op))
	}
	if err := validator.New().Struct(&out); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &out, nil
}

func (a Attrs) attributes() forest.Attributes {
	out := forest.Attributes{
		Description:   a.Description,
		StageID:       a.StageID,
		Unit:          a.Unit,
		Cadence:       a.Cadence,
		Notes:         a.Notes,
		Assumptions:   a.Assumptions,
		UniformatCode: a.UniformatCode,
	}
	if d, err := decimal.NewFromString(a.Estimate); err == nil {
		out.Estimate = decimal.NewNullDecimal(d)
	}
	if d, err := decimal.NewFromString(a.AnnualEstimate); err == nil {
		out.AnnualEstimate = decimal.NewNullDecimal(d)
	}
	return out
}

// Steps turns the file into propagator steps. Consecutive reorders form one
// step, so a mixed-depth reorder lands as a single batch.
func (f *File) Steps() []services.Step {
	var steps []services.Step
	for i := 0; i < len(f.Entries); i++ {
		e := f.Entries[i]
		if e.Op == OpReorder {
			j := i
			for j < len(f.Entries) && f.Entries[j].Op == OpReorder {
				j++
			}
			steps = append(steps, reorderStep(f.Entries[i:j]))
			i = j - 1
			continue
		}
		steps = append(steps, entryStep(e))
	}
	return steps
}

func reorderStep(entries []Entry) services.Step {
	parents := make([]string, len(entries))
	for i, e := range entries {
		parents[i] = e.Parent
	}
	return services.Step{
		Name: fmt.Sprintf("reorder %s", strings.Join(parents, ", ")),
		Plan: func(idx *forest.Index, resolve services.Resolver) (services.Plan, error) {
			reqs := make([]services.ReorderRequest, len(entries))
			for i, e := range entries {
				reqs[i] = services.ReorderRequest{ParentID: resolve(e.Parent), Depth: e.Depth, Order: e.Order}
			}
			return services.PlanReorders(idx, reqs)
		},
	}
}

func entryStep(e Entry) services.Step {
	step := services.Step{Name: e.Op + " " + e.ID}
	switch e.Op {
	case OpRename:
		step.Plan = func(idx *forest.Index, resolve services.Resolver) (services.Plan, error) {
			return services.PlanRename(idx, resolve(e.ID), e.Name)
		}
	case OpMove:
		step.Plan = func(idx *forest.Index, resolve services.Resolver) (services.Plan, error) {
			return services.PlanMove(idx, resolve(e.ID), resolve(e.Parent), e.Position)
		}
	case OpInsert:
		step.Name = e.Op + " " + e.Parent + "/" + e.Name
		step.Plan = func(idx *forest.Index, resolve services.Resolver) (services.Plan, error) {
			return services.PlanInsert(idx, resolve(e.Parent), e.Name, e.Position, e.Attrs.attributes())
		}
	case OpDelete:
		step.Plan = func(idx *forest.Index, resolve services.Resolver) (services.Plan, error) {
			return services.PlanDelete(idx, resolve(e.ID), e.Cascade)
		}
	}
	return step
}
