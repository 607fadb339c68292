// Package schema describes the typed shape of a model: its stored paths and
// their casters, references between models, virtual joins and discriminator
// variants.
package schema

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
)

// Kind classifies a path.
type Kind int

const (
	Adhoc Kind = iota
	Real
	Virtual
	Nested
)

func (k Kind) String() string {
	switch k {
	case Real:
		return "real"
	case Virtual:
		return "virtual"
	case Nested:
		return "nested"
	}
	return "adhoc"
}

const DefaultDiscriminatorKey = "__t"

// Getter reads dotted paths off a document.
type Getter interface {
	Get(path string) any
}

// Field names a document field, either statically or computed per document.
type Field struct {
	Name string
	Func func(doc Getter) string
}

// FieldName is a static Field.
func FieldName(name string) Field { return Field{Name: name} }

// FieldFunc is a Field computed from each document.
func FieldFunc(fn func(doc Getter) string) Field { return Field{Func: fn} }

func (f Field) IsZero() bool { return f.Name == "" && f.Func == nil }

func (f Field) IsComputed() bool { return f.Func != nil }

// Resolve returns the field name for doc.
func (f Field) Resolve(doc Getter) string {
	if f.Func != nil {
		return f.Func(doc)
	}
	return f.Name
}

// RefSpec names the model a reference points to, statically or per document.
type RefSpec struct {
	Name string
	Func func(doc Getter) string
}

func (r RefSpec) IsZero() bool { return r.Name == "" && r.Func == nil }

func (r RefSpec) Resolve(doc Getter) string {
	if r.Func != nil {
		return r.Func(doc)
	}
	return r.Name
}

// PathType is the schema entry of one path.
type PathType struct {
	Path   string
	Kind   Kind
	Caster Caster
	Ref    RefSpec
	// RefPath names a document path holding the target model name.
	RefPath string
	// UnderneathDocArray is set for paths inside an array of embedded documents.
	UnderneathDocArray bool
	// Schema is the embedded schema for sub-document and document array paths.
	Schema *Schema
}

// IsArray reports whether the path stores an array.
func (p *PathType) IsArray() bool {
	if p == nil {
		return false
	}
	_, ok := Element(p.Caster)
	return ok
}

// VirtualSpec declares a join that is not stored: documents of Ref whose
// ForeignField equals this document's LocalField.
type VirtualSpec struct {
	Path         string
	Ref          RefSpec
	LocalField   Field
	ForeignField Field
	JustOne      bool
	Match        bson.M
	Options      query.Options
}

// PathOption customises a path added with Add.
type PathOption func(*PathType)

// Ref declares a reference to the named model.
func Ref(model string) PathOption {
	return func(p *PathType) { p.Ref = RefSpec{Name: model} }
}

// RefFunc declares a reference whose target is computed per document.
func RefFunc(fn func(doc Getter) string) PathOption {
	return func(p *PathType) { p.Ref = RefSpec{Func: fn} }
}

// RefPath declares a reference whose target model name is stored at path.
func RefPath(path string) PathOption {
	return func(p *PathType) { p.RefPath = path }
}

type Schema struct {
	IDField    string
	VersionKey string
	// SkipVersioning exempts paths (without array positions) from versioning.
	SkipVersioning map[string]bool
	// SaveErrorIfNotFound makes a save that matches nothing fail.
	SaveErrorIfNotFound bool

	paths    map[string]*PathType
	order    []string
	nested   map[string]bool
	virtuals map[string]*VirtualSpec

	discriminatorKey string
	// tag is set on variant schemas.
	tag      string
	variants map[string]*Schema
	base     *Schema
}

// New returns a schema with an ObjectID identity and "__v" version key.
func New() *Schema {
	s := &Schema{
		IDField:    "_id",
		VersionKey: "__v",
		paths:      map[string]*PathType{},
		nested:     map[string]bool{},
		virtuals:   map[string]*VirtualSpec{},
	}
	s.Add("_id", ObjectID)
	return s
}

// Add declares a stored path. Sub-document casters register their paths under
// the prefix.
func (s *Schema) Add(path string, c Caster, opts ...PathOption) *Schema {
	pt := &PathType{Path: path, Kind: Real, Caster: c}
	for _, o := range opts {
		o(pt)
	}
	s.addPath(pt)
	if sub, array := subSchema(c); sub != nil {
		pt.Schema = sub
		for _, p := range sub.order {
			child := *sub.paths[p]
			child.Path = path + "." + p
			child.UnderneathDocArray = child.UnderneathDocArray || array
			s.addPath(&child)
		}
	}
	return s
}

func (s *Schema) addPath(pt *PathType) {
	if _, exists := s.paths[pt.Path]; !exists {
		s.order = append(s.order, pt.Path)
	}
	s.paths[pt.Path] = pt
	parts := strings.Split(pt.Path, ".")
	for i := 1; i < len(parts); i++ {
		s.nested[strings.Join(parts[:i], ".")] = true
	}
}

// AddVirtual declares a virtual join.
// A virtual missing its join fields is accepted here and rejected by populate.
func (s *Schema) AddVirtual(v VirtualSpec) *Schema {
	s.virtuals[v.Path] = &v
	return s
}

// SkipVersion exempts paths from optimistic versioning.
func (s *Schema) SkipVersion(paths ...string) *Schema {
	if s.SkipVersioning == nil {
		s.SkipVersioning = map[string]bool{}
	}
	for _, p := range paths {
		s.SkipVersioning[p] = true
	}
	return s
}

// Paths lists the declared stored paths in declaration order.
func (s *Schema) Paths() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Virtuals lists the declared virtual paths, sorted.
func (s *Schema) Virtuals() []string {
	out := make([]string, 0, len(s.virtuals))
	for p := range s.virtuals {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Path returns the entry of a declared stored path. Array positions resolve to
// the element entry: "tags.0" yields the caster of the tags elements.
func (s *Schema) Path(path string) *PathType {
	if pt, ok := s.paths[path]; ok {
		return pt
	}
	if !strings.Contains(path, ".") {
		return nil
	}
	parts := strings.Split(path, ".")
	stripped := bsonutil.StripIndexes(path)
	pt, ok := s.paths[stripped]
	if !ok {
		return nil
	}
	if !bsonutil.IsIndex(parts[len(parts)-1]) {
		return pt
	}
	elem, isArray := Element(pt.Caster)
	if !isArray {
		return pt
	}
	out := *pt
	out.Path = path
	out.Caster = elem
	out.Schema, _ = subSchema(elem)
	return &out
}

// PathType classifies path and returns its entry. Unknown paths are adhoc.
func (s *Schema) PathType(path string) *PathType {
	if pt := s.Path(path); pt != nil {
		return pt
	}
	if v, ok := s.virtuals[path]; ok {
		return &PathType{Path: path, Kind: Virtual, Ref: v.Ref}
	}
	if s.nested[path] || s.nested[bsonutil.StripIndexes(path)] {
		return &PathType{Path: path, Kind: Nested}
	}
	return &PathType{Path: path, Kind: Adhoc, Caster: Mixed}
}

// Virtual returns the virtual declared at path, or nil.
func (s *Schema) Virtual(path string) *VirtualSpec {
	return s.virtuals[path]
}

// IsVirtual reports whether path is, or is inside, a virtual.
func (s *Schema) IsVirtual(path string) bool {
	if _, ok := s.virtuals[path]; ok {
		return true
	}
	for p := range s.virtuals {
		if strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// Cast coerces v to the type declared at path. Virtual and unknown paths are
// returned unchanged.
func (s *Schema) Cast(path string, v any) (any, error) {
	pt := s.PathType(path)
	if pt.Kind != Real || pt.Caster == nil {
		return v, nil
	}
	out, err := pt.Caster.Cast(v)
	if err != nil {
		return nil, &CastError{Path: path, Type: pt.Caster.Name(), Value: v, Reason: err}
	}
	return out, nil
}

// SetDiscriminatorKey changes the field storing the variant tag.
func (s *Schema) SetDiscriminatorKey(key string) *Schema {
	s.discriminatorKey = key
	return s
}

// DiscriminatorKey returns the field storing the variant tag.
func (s *Schema) DiscriminatorKey() string {
	if s.base != nil {
		return s.base.DiscriminatorKey()
	}
	if s.discriminatorKey == "" {
		return DefaultDiscriminatorKey
	}
	return s.discriminatorKey
}

// Discriminator registers a variant of s selected by tag. The variant inherits
// the base paths, virtuals and options, and adds the paths of child.
func (s *Schema) Discriminator(tag string, child *Schema) *Schema {
	v := s.clone()
	v.base = s
	v.tag = tag
	v.variants = nil
	if child != nil {
		for _, p := range child.order {
			if p == "_id" {
				continue
			}
			cp := *child.paths[p]
			v.addPath(&cp)
		}
		for p, vs := range child.virtuals {
			v.virtuals[p] = vs
		}
	}
	key := s.DiscriminatorKey()
	if s.paths[key] == nil {
		s.Add(key, String)
	}
	v.Add(key, String)
	if s.variants == nil {
		s.variants = map[string]*Schema{}
	}
	s.variants[tag] = v
	return v
}

// DiscriminatorKeyAndValue returns the tag of a variant schema.
func (s *Schema) DiscriminatorKeyAndValue() (key, value string, ok bool) {
	if s.base == nil {
		return "", "", false
	}
	return s.DiscriminatorKey(), s.tag, true
}

// HasVariants reports whether discriminators are declared on s.
func (s *Schema) HasVariants() bool { return len(s.variants) > 0 }

// Variant returns the schema registered for tag.
func (s *Schema) Variant(tag string) (*Schema, bool) {
	if s.base != nil {
		return s.base.Variant(tag)
	}
	v, ok := s.variants[tag]
	return v, ok
}

// Base returns the schema a variant was derived from, or s itself.
func (s *Schema) Base() *Schema {
	if s.base != nil {
		return s.base
	}
	return s
}

func (s *Schema) clone() *Schema {
	c := &Schema{
		IDField:             s.IDField,
		VersionKey:          s.VersionKey,
		SaveErrorIfNotFound: s.SaveErrorIfNotFound,
		paths:               make(map[string]*PathType, len(s.paths)),
		order:               append([]string(nil), s.order...),
		nested:              make(map[string]bool, len(s.nested)),
		virtuals:            make(map[string]*VirtualSpec, len(s.virtuals)),
		discriminatorKey:    s.discriminatorKey,
	}
	for k, v := range s.paths {
		c.paths[k] = v
	}
	for k, v := range s.nested {
		c.nested[k] = v
	}
	for k, v := range s.virtuals {
		c.virtuals[k] = v
	}
	if s.SkipVersioning != nil {
		c.SkipVersioning = make(map[string]bool, len(s.SkipVersioning))
		for k, v := range s.SkipVersioning {
			c.SkipVersioning[k] = v
		}
	}
	return c
}
