package fabric

import (
	"sync"

	"github.com/soypat/fabric/progcache"
	"github.com/soypat/fabric/texload"
)

// ProgramCache shares programs between materials generating identical shader source.
type ProgramCache = progcache.Cache[Program]

// NewProgramCache returns a program cache compiling programs on ctx.
func NewProgramCache(ctx Context) *ProgramCache {
	return progcache.New(ctx.CompileProgram, func(p Program) error {
		return p.Destroy()
	})
}

// contextCaches holds the default program cache of each context.
var contextCaches = struct {
	mu sync.Mutex
	m  map[Context]*ProgramCache
}{m: make(map[Context]*ProgramCache)}

// programCacheFor returns the default program cache of ctx. ctx must be comparable.
func programCacheFor(ctx Context) *ProgramCache {
	contextCaches.mu.Lock()
	defer contextCaches.mu.Unlock()
	c, ok := contextCaches.m[ctx]
	if !ok {
		c = NewProgramCache(ctx)
		contextCaches.m[ctx] = c
	}
	return c
}

// ForgetContext drops the default program cache of ctx. Call it after all
// materials created on ctx are destroyed and before the context is torn down.
func ForgetContext(ctx Context) {
	contextCaches.mu.Lock()
	defer contextCaches.mu.Unlock()
	delete(contextCaches.m, ctx)
}

var defaultLoader = sync.OnceValue(func() *texload.Loader {
	return texload.New(texload.Config{Logger: Logger()})
})
