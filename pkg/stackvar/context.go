package stackvar

import (
	"debug/dwarf"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/stackvars/stackvars/pkg/bininfo"
	"github.com/stackvars/stackvars/pkg/dwarf/godwarf"
	"github.com/stackvars/stackvars/pkg/logflags"
)

// DefaultTypeCacheSize is the number of resolved types kept by a Context
// when Options.TypeCacheSize is not set.
const DefaultTypeCacheSize = 4096

// Options configures a Context.
type Options struct {
	TypeCacheSize int
}

// Context holds the type index of every compile unit of an image so that
// the variables of many subprograms can be queried without reading the
// units again. Indexes are never modified after NewContext returns.
type Context struct {
	img   *bininfo.Image
	x     *extractor
	units map[dwarf.Offset]*indexedUnit
	types lruTypeCache
	log   logflags.Logger
}

type indexedUnit struct {
	*Unit
	idx *godwarf.TypeIndex
}

// NewContext reads every compile unit of img and indexes its types.
func NewContext(img *bininfo.Image, opts Options) (*Context, error) {
	size := opts.TypeCacheSize
	if size <= 0 {
		size = DefaultTypeCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	c := &Context{
		img:   img,
		x:     newExtractor(img),
		units: make(map[dwarf.Offset]*indexedUnit),
		types: lruTypeCache{cache},
		log:   logflags.QueryLogger(),
	}

	ur := NewUnitReader(img)
	for ur.Next() {
		u := ur.Unit()
		c.units[u.Offset] = &indexedUnit{Unit: u, idx: godwarf.BuildTypeIndex(u.Root, u.UnitHeader)}
	}
	if err := ur.Err(); err != nil {
		return nil, err
	}
	if logflags.Query() {
		c.log.Debugf("context ready: %d units indexed", len(c.units))
	}
	return c, nil
}

// Units returns the number of indexed units.
func (c *Context) Units() int {
	return len(c.units)
}

// SetTypeCacheSize changes the number of resolved types c keeps. The least
// recently used types are evicted if the cache shrinks, their number is
// returned. A size of zero or less selects DefaultTypeCacheSize.
func (c *Context) SetTypeCacheSize(size int) int {
	if size <= 0 {
		size = DefaultTypeCacheSize
	}
	evicted := c.types.c.Resize(size)
	if logflags.Query() {
		c.log.Debugf("type cache resized to %d, %d types evicted", size, evicted)
	}
	return evicted
}

// CachedTypes returns the number of resolved types currently cached.
func (c *Context) CachedTypes() int {
	return c.types.c.Len()
}

// VariablesOf returns the variables of sp in the order they are declared.
// The result is the same the RecordReader produces for sp.
// If the unit of sp was not indexed the error wraps ErrUnitNotIndexed.
func (c *Context) VariablesOf(sp Subprogram) ([]Variable, error) {
	u, fn, err := c.load(sp)
	if err != nil {
		return nil, err
	}
	vars, err := c.x.functionVariables(fn, u.Unit, u.idx, c.types)
	if err != nil {
		return nil, err
	}
	if logflags.Query() {
		c.log.Debugf("subprogram at %#x: %d variables", sp.Offset, len(vars))
	}
	return vars, nil
}

// RecordsOf returns the records of the variables of sp.
func (c *Context) RecordsOf(sp Subprogram) ([]Record, error) {
	u, fn, err := c.load(sp)
	if err != nil {
		return nil, err
	}
	vars, err := c.x.functionVariables(fn, u.Unit, u.idx, c.types)
	if err != nil {
		return nil, err
	}
	rng, _ := fn.PCRange()
	return makeRecords(u.Unit, fn, rng, vars)
}

func (c *Context) load(sp Subprogram) (*indexedUnit, *godwarf.Tree, error) {
	u, ok := c.units[sp.UnitOffset]
	if !ok {
		return nil, nil, fmt.Errorf("subprogram at %#x, unit %#x: %w", sp.Offset, sp.UnitOffset, ErrUnitNotIndexed)
	}
	if !u.Contains(sp.Offset) {
		return nil, nil, fmt.Errorf("subprogram at %#x is not in unit %#x", sp.Offset, sp.UnitOffset)
	}
	fn, err := godwarf.LoadTree(sp.Offset, c.img.Dwarf)
	if err != nil {
		return nil, nil, err
	}
	if fn.Tag != dwarf.TagSubprogram {
		return nil, nil, fmt.Errorf("entry at %#x is a %s, not a subprogram", sp.Offset, fn.Tag)
	}
	return u, fn, nil
}

// lruTypeCache adapts an LRU cache to godwarf.TypeCache. Keys are section
// offsets, which are unique across units.
type lruTypeCache struct {
	c *lru.Cache
}

func (tc lruTypeCache) Get(off dwarf.Offset) (godwarf.Type, bool) {
	v, ok := tc.c.Get(off)
	if !ok {
		return nil, false
	}
	return v.(godwarf.Type), true
}

func (tc lruTypeCache) Add(off dwarf.Offset, typ godwarf.Type) {
	tc.c.Add(off, typ)
}
