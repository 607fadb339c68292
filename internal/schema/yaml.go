package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/gogotex/gogotex/backend/odm/internal/query"
)

// File is the YAML form of a set of model definitions.
type File struct {
	Models map[string]ModelDef `yaml:"models"`
}

type ModelDef struct {
	Collection          string                `yaml:"collection"`
	VersionKey          *string               `yaml:"versionKey"`
	SkipVersioning      []string              `yaml:"skipVersioning"`
	SaveErrorIfNotFound bool                  `yaml:"saveErrorIfNotFound"`
	DiscriminatorKey    string                `yaml:"discriminatorKey"`
	Paths               map[string]PathDef    `yaml:"paths"`
	Virtuals            map[string]VirtualDef `yaml:"virtuals"`
	Discriminators      map[string]ModelDef   `yaml:"discriminators"`
}

// PathDef declares one path. A bare scalar is shorthand for {type: <scalar>}.
type PathDef struct {
	Type    string             `yaml:"type"`
	Of      string             `yaml:"of"`
	Ref     string             `yaml:"ref"`
	RefPath string             `yaml:"refPath"`
	Paths   map[string]PathDef `yaml:"paths"`
}

// UnmarshalYAML accepts either a type name or a mapping.
func (p *PathDef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&p.Type)
	case yaml.MappingNode:
		type plain PathDef
		var out plain
		if err := node.Decode(&out); err != nil {
			return err
		}
		*p = PathDef(out)
		return nil
	default:
		return fmt.Errorf("expected type name or mapping, got %v", node.Kind)
	}
}

type VirtualDef struct {
	Ref          string         `yaml:"ref"`
	LocalField   string         `yaml:"localField"`
	ForeignField string         `yaml:"foreignField"`
	JustOne      bool           `yaml:"justOne"`
	Match        map[string]any `yaml:"match"`
	Options      struct {
		Sort  string `yaml:"sort"`
		Skip  int64  `yaml:"skip"`
		Limit int64  `yaml:"limit"`
	} `yaml:"options"`
}

// Definition is a compiled model definition.
type Definition struct {
	Name       string
	Collection string
	Schema     *Schema
	Variants   []Variant
}

// Variant is a discriminator declared on a definition.
type Variant struct {
	Tag    string
	Schema *Schema
}

// LoadFile loads and compiles a YAML definitions file from the given path.
func LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse compiles YAML definitions. The result is sorted by model name.
func Parse(data []byte) ([]*Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	applyDefaults(&f)

	names := sortedKeys(f.Models)
	out := make([]*Definition, 0, len(names))
	for _, name := range names {
		md := f.Models[name]
		s, err := compile(md)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
		def := &Definition{Name: name, Collection: md.Collection, Schema: s}
		for _, tag := range sortedKeys(md.Discriminators) {
			child, err := compile(md.Discriminators[tag])
			if err != nil {
				return nil, fmt.Errorf("model %s discriminator %s: %w", name, tag, err)
			}
			def.Variants = append(def.Variants, Variant{Tag: tag, Schema: s.Discriminator(tag, child)})
		}
		out = append(out, def)
	}
	return out, nil
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(f *File) {
	for name, md := range f.Models {
		if md.Collection == "" {
			md.Collection = strings.ToLower(name) + "s"
		}
		f.Models[name] = md
	}
}

func compile(md ModelDef) (*Schema, error) {
	s := New()
	if md.VersionKey != nil {
		s.VersionKey = *md.VersionKey
	}
	s.SaveErrorIfNotFound = md.SaveErrorIfNotFound
	if len(md.SkipVersioning) > 0 {
		s.SkipVersion(md.SkipVersioning...)
	}
	if md.DiscriminatorKey != "" {
		s.SetDiscriminatorKey(md.DiscriminatorKey)
	}
	for _, p := range sortedKeys(md.Paths) {
		pd := md.Paths[p]
		c, err := casterFor(pd)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", p, err)
		}
		var opts []PathOption
		if pd.Ref != "" {
			opts = append(opts, Ref(pd.Ref))
		}
		if pd.RefPath != "" {
			opts = append(opts, RefPath(pd.RefPath))
		}
		s.Add(p, c, opts...)
	}
	for _, p := range sortedKeys(md.Virtuals) {
		vd := md.Virtuals[p]
		v := VirtualSpec{
			Path:         p,
			Ref:          RefSpec{Name: vd.Ref},
			LocalField:   FieldName(vd.LocalField),
			ForeignField: FieldName(vd.ForeignField),
			JustOne:      vd.JustOne,
			Options: query.Options{
				Sort:  query.ParseSort(vd.Options.Sort),
				Skip:  vd.Options.Skip,
				Limit: vd.Options.Limit,
			},
		}
		if len(vd.Match) > 0 {
			v.Match = bson.M(vd.Match)
		}
		s.AddVirtual(v)
	}
	return s, nil
}

func casterFor(pd PathDef) (Caster, error) {
	switch strings.ToLower(pd.Type) {
	case "string":
		return String, nil
	case "number":
		return Number, nil
	case "boolean", "bool":
		return Boolean, nil
	case "date":
		return Date, nil
	case "objectid":
		return ObjectID, nil
	case "mixed", "":
		if len(pd.Paths) > 0 {
			return embedded(pd)
		}
		return Mixed, nil
	case "embedded":
		return embedded(pd)
	case "array":
		if len(pd.Paths) > 0 {
			sub, err := compile(ModelDef{Paths: pd.Paths})
			if err != nil {
				return nil, err
			}
			return DocArray(sub), nil
		}
		elem, err := casterFor(PathDef{Type: pd.Of})
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	}
	return nil, fmt.Errorf("unknown type %q", pd.Type)
}

func embedded(pd PathDef) (Caster, error) {
	sub, err := compile(ModelDef{Paths: pd.Paths})
	if err != nil {
		return nil, err
	}
	return Embedded(sub), nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
