package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sdd/internal/ir"
)

// ManifestFile is the manifest name at the bundle root.
const ManifestFile = "bundle.yaml"

// Defaults applied to an omitted manifest field.
const (
	DefaultSchemaDir    = "schemas"
	SchemaFileSuffix    = ".schema.json"
	DefaultRuleSeverity = ir.SeverityError
)

// DefaultProtectedBranches are refused as apply targets unless the
// manifest names its own list.
var DefaultProtectedBranches = []string{"main", "master"}

// Manifest declares the entity types of a bundle and where they live.
type Manifest struct {
	Name              string                   `yaml:"name" validate:"required"`
	Version           string                   `yaml:"version,omitempty"`
	SchemaDir         string                   `yaml:"schemaDir,omitempty" validate:"omitempty,bundlepath"`
	DomainNotes       string                   `yaml:"domainNotes,omitempty" validate:"omitempty,bundlepath"`
	ProtectedBranches []string                 `yaml:"protectedBranches,omitempty" validate:"dive,required"`
	Entities          map[string]EntityBinding `yaml:"entities" validate:"required,min=1,dive,keys,required,excludesall=:/,endkeys"`
	Lint              LintConfig               `yaml:"lint,omitempty"`
}

// EntityBinding binds an entity type to its directory and schema file.
type EntityBinding struct {
	Dir    string `yaml:"dir" validate:"required,bundlepath"`
	Schema string `yaml:"schema,omitempty" validate:"omitempty,bundlepath"`
}

// LintConfig holds the bundle-configured custom rules and conformance profiles.
type LintConfig struct {
	Rules    []RuleSpec    `yaml:"rules,omitempty" validate:"dive"`
	Profiles []ProfileSpec `yaml:"profiles,omitempty" validate:"dive"`
}

// RuleSpec configures one built-in lint rule.
//
// Kinds:
//   - required-field: Field must be present and non-empty
//   - id-pattern: ids must match the regular expression Pattern
//   - no-orphans: entities must be referenced or reference something
//   - no-cycles: reference cycles are reported
//   - cue: entity data must unify with the CUE expression Constraint
type RuleSpec struct {
	Name       string `yaml:"name" validate:"required"`
	Kind       string `yaml:"kind" validate:"required,oneof=required-field id-pattern no-orphans no-cycles cue"`
	EntityType string `yaml:"entityType,omitempty"`
	Field      string `yaml:"field,omitempty" validate:"required_if=Kind required-field"`
	Pattern    string `yaml:"pattern,omitempty" validate:"required_if=Kind id-pattern"`
	Constraint string `yaml:"constraint,omitempty" validate:"required_if=Kind cue"`
	Severity   string `yaml:"severity,omitempty" validate:"omitempty,oneof=error warning info"`
	Message    string `yaml:"message,omitempty"`
}

// ProfileSpec is a named set of conformance rules.
type ProfileSpec struct {
	ID    string                `yaml:"id" validate:"required"`
	Title string                `yaml:"title,omitempty"`
	Rules []ConformanceRuleSpec `yaml:"rules" validate:"required,min=1,dive"`
}

// ConformanceRuleSpec links a CUE constraint over one entity type to the
// requirement entity it enforces.
type ConformanceRuleSpec struct {
	ID              string `yaml:"id" validate:"required"`
	Requirement     string `yaml:"requirement" validate:"required"`
	RequirementType string `yaml:"requirementType,omitempty"`
	EntityType      string `yaml:"entityType" validate:"required"`
	Constraint      string `yaml:"constraint" validate:"required"`
	Severity        string `yaml:"severity,omitempty" validate:"omitempty,oneof=error warning info"`
}

// Profile returns the profile with id.
func (c LintConfig) Profile(id string) (ProfileSpec, bool) {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return ProfileSpec{}, false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// bundlepath: relative, and stays under the bundle root once cleaned.
	v.RegisterValidation("bundlepath", func(fl validator.FieldLevel) bool {
		return filepath.IsLocal(fl.Field().String())
	})
	return v
}

// LoadManifest reads and validates root/bundle.yaml and applies defaults.
// A missing manifest is NOT_FOUND; malformed YAML or invalid fields are
// BAD_REQUEST.
func LoadManifest(root string) (*Manifest, error) {
	path := filepath.Join(root, ManifestFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.WrapError(ir.CodeNotFound, fmt.Sprintf("manifest not found: %s", path), err)
	}
	if err != nil {
		return nil, ir.WrapError(ir.CodeInternal, "reading manifest", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates manifest bytes.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "manifest is not valid YAML", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "invalid manifest", formatValidationError(err))
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.SchemaDir == "" {
		m.SchemaDir = DefaultSchemaDir
	}
	if len(m.ProtectedBranches) == 0 {
		m.ProtectedBranches = append([]string(nil), DefaultProtectedBranches...)
	}
	for t, b := range m.Entities {
		if b.Schema == "" {
			b.Schema = t + SchemaFileSuffix
		}
		b.Dir = filepath.Clean(b.Dir)
		m.Entities[t] = b
	}
	for i := range m.Lint.Profiles {
		for j := range m.Lint.Profiles[i].Rules {
			r := &m.Lint.Profiles[i].Rules[j]
			if r.RequirementType == "" {
				r.RequirementType = "Requirement"
			}
		}
	}
}

// SchemaBindings maps each entity type to its schema file name.
func (m *Manifest) SchemaBindings() map[string]string {
	out := make(map[string]string, len(m.Entities))
	for t, b := range m.Entities {
		out[t] = b.Schema
	}
	return out
}

// IsProtected reports whether branch may not receive apply commits.
func (m *Manifest) IsProtected(branch string) bool {
	for _, b := range m.ProtectedBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// formatValidationError turns validator output into one readable error
// naming each failing field by its manifest key.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "required_if":
			msgs = append(msgs, fmt.Sprintf("%s is required when %s", field, e.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "bundlepath":
			msgs = append(msgs, fmt.Sprintf("%s must be a relative path inside the bundle", field))
		case "excludesall":
			msgs = append(msgs, fmt.Sprintf("%s must not contain any of %q", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
