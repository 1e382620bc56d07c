package value

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type stepKind int

const (
	stepField stepKind = iota
	stepIndex
	stepKey
)

type step struct {
	kind  stepKind
	name  string
	field int
	index int
	key   reflect.Value
}

// Path is a property path compiled against a root type. Addressing follows
// the usual notation: dotted struct fields ("a.b"), integer indexes into
// slices and arrays ("items[2]") and keys into maps ("labels[env]").
// Field names match either the Go field name or its json tag name.
//
// Compiling resolves every step once, so Get and Set never parse strings.
type Path struct {
	src   string
	root  reflect.Type
	typ   reflect.Type
	steps []step
}

// Compile resolves path against root. An empty path addresses the root itself.
func Compile(root Type, path string) (*Path, error) {
	if !root.Valid() {
		return nil, fmt.Errorf("compile path %q: invalid root type", path)
	}
	p := &Path{src: path, root: root.rt, typ: root.rt}
	if path == "" {
		return p, nil
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	t := root.rt
	for _, seg := range segments {
		t = deref(t)
		var s step
		switch seg.kind {
		case stepField:
			if t.Kind() != reflect.Struct {
				return nil, fmt.Errorf("compile path %q: %s is not a struct", path, t)
			}
			f, ok := lookupField(t, seg.name)
			if !ok {
				return nil, fmt.Errorf("compile path %q: %s has no field %q", path, t, seg.name)
			}
			s = step{kind: stepField, name: seg.name, field: f.Index[0]}
			t = f.Type
		case stepIndex:
			switch t.Kind() {
			case reflect.Slice, reflect.Array:
				idx, err := strconv.Atoi(seg.name)
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("compile path %q: invalid index %q", path, seg.name)
				}
				s = step{kind: stepIndex, name: seg.name, index: idx}
				t = t.Elem()
			case reflect.Map:
				key, err := mapKey(t.Key(), seg.name)
				if err != nil {
					return nil, fmt.Errorf("compile path %q: %w", path, err)
				}
				s = step{kind: stepKey, name: seg.name, key: key}
				t = t.Elem()
			default:
				return nil, fmt.Errorf("compile path %q: %s cannot be indexed", path, t)
			}
		}
		p.steps = append(p.steps, s)
	}
	p.typ = t
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(root Type, path string) *Path {
	p, err := Compile(root, path)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Path) String() string  { return p.src }
func (p *Path) Type() Type      { return Type{rt: p.typ} }
func (p *Path) RootType() Type  { return Type{rt: p.root} }
func (p *Path) IsRoot() bool    { return len(p.steps) == 0 }

// Get reads the addressed property of obj.
func (p *Path) Get(obj Value) (Value, error) {
	if obj.v == nil {
		return Value{}, fmt.Errorf("get %q: nil value", p.src)
	}
	rv := reflect.ValueOf(obj.v)
	if rv.Type() != p.root {
		return Value{}, fmt.Errorf("get %q: value is %s, path is rooted at %s", p.src, rv.Type(), p.root)
	}
	for _, s := range p.steps {
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return Value{}, fmt.Errorf("get %q: nil pointer before %q", p.src, s.name)
			}
			rv = rv.Elem()
		}
		switch s.kind {
		case stepField:
			rv = rv.Field(s.field)
		case stepIndex:
			if s.index >= rv.Len() {
				return Value{}, fmt.Errorf("get %q: index %d out of range (len %d)", p.src, s.index, rv.Len())
			}
			rv = rv.Index(s.index)
		case stepKey:
			mv := rv.MapIndex(s.key)
			if !mv.IsValid() {
				return Value{}, fmt.Errorf("get %q: key %q not found", p.src, s.name)
			}
			rv = mv
		}
	}
	return Value{v: rv.Interface()}, nil
}

// Set writes x into the addressed property of *obj. A zero *obj starts from
// the zero value of the root type. Nil pointers and maps on the way are
// allocated; slice indexes must already exist.
func (p *Path) Set(obj *Value, x Value) error {
	xv, err := p.assignable(x)
	if err != nil {
		return err
	}
	root := reflect.New(p.root).Elem()
	if obj.v != nil {
		cur := reflect.ValueOf(obj.v)
		if cur.Type() != p.root {
			return fmt.Errorf("set %q: value is %s, path is rooted at %s", p.src, cur.Type(), p.root)
		}
		root.Set(cur)
	}
	if err := p.setAt(root, p.steps, xv); err != nil {
		return err
	}
	obj.v = root.Interface()
	return nil
}

func (p *Path) assignable(x Value) (reflect.Value, error) {
	if x.v == nil {
		return reflect.Zero(p.typ), nil
	}
	xv := reflect.ValueOf(x.v)
	if xv.Type().AssignableTo(p.typ) {
		return xv, nil
	}
	return reflect.Value{}, fmt.Errorf("set %q: cannot assign %s to %s", p.src, xv.Type(), p.typ)
}

func (p *Path) setAt(v reflect.Value, steps []step, x reflect.Value) error {
	if len(steps) == 0 {
		v.Set(x)
		return nil
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	s := steps[0]
	switch s.kind {
	case stepField:
		return p.setAt(v.Field(s.field), steps[1:], x)
	case stepIndex:
		if s.index >= v.Len() {
			return fmt.Errorf("set %q: index %d out of range (len %d)", p.src, s.index, v.Len())
		}
		return p.setAt(v.Index(s.index), steps[1:], x)
	default:
		elem := reflect.New(v.Type().Elem()).Elem()
		if !v.IsNil() {
			if cur := v.MapIndex(s.key); cur.IsValid() {
				elem.Set(cur)
			}
		}
		if err := p.setAt(elem, steps[1:], x); err != nil {
			return err
		}
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		v.SetMapIndex(s.key, elem)
		return nil
	}
}

type segment struct {
	kind stepKind
	name string
}

func splitPath(path string) ([]segment, error) {
	var out []segment
	for _, part := range splitDots(path) {
		name, rest, _ := strings.Cut(part, "[")
		if name == "" {
			return nil, fmt.Errorf("path %q: empty field name", path)
		}
		out = append(out, segment{kind: stepField, name: name})
		if rest == "" && !strings.Contains(part, "[") {
			continue
		}
		rest = "[" + rest
		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("path %q: unexpected %q", path, rest)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated bracket", path)
			}
			out = append(out, segment{kind: stepIndex, name: rest[1:end]})
			rest = rest[end+1:]
		}
	}
	return out, nil
}

// splitDots splits on dots outside brackets so map keys may contain dots.
func splitDots(path string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				parts = append(parts, path[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, path[start:])
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func lookupField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == name {
			return f, true
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func mapKey(kt reflect.Type, raw string) (reflect.Value, error) {
	switch kt.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(kt), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid %s key %q", kt, raw)
		}
		return reflect.ValueOf(n).Convert(kt), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid %s key %q", kt, raw)
		}
		return reflect.ValueOf(n).Convert(kt), nil
	default:
		return reflect.Value{}, fmt.Errorf("unsupported map key type %s", kt)
	}
}
