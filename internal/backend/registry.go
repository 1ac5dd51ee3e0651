package backend

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/thicket-db/thicket/internal/index"
	indexmem "github.com/thicket-db/thicket/internal/index/inmemory"
	"github.com/thicket-db/thicket/internal/kcv"
	kcvmem "github.com/thicket-db/thicket/internal/kcv/inmemory"
	"github.com/thicket-db/thicket/internal/sqlitekv"
)

// Fully-qualified implementation identifiers. The identifier is the
// import path of the implementing package; the factory maps below are the
// only authority on what is instantiable.
const (
	inMemoryManagerImpl = "github.com/thicket-db/thicket/internal/kcv/inmemory"
	sqliteManagerImpl   = "github.com/thicket-db/thicket/internal/sqlitekv"
	inMemoryIndexImpl   = "github.com/thicket-db/thicket/internal/index/inmemory"
)

// ManagerFactory constructs a storage manager from its options.
type ManagerFactory func(opts map[string]string) (kcv.Manager, error)

// IndexFactory constructs an index provider from its options.
type IndexFactory func(opts map[string]string) (index.Provider, error)

// Statically registered factories: identifier -> constructor. Resolution
// is a pure lookup; there is no path scanning and no runtime mutation.
var managerFactories = map[string]ManagerFactory{
	inMemoryManagerImpl: func(opts map[string]string) (kcv.Manager, error) { return kcvmem.New(opts) },
	sqliteManagerImpl:   func(opts map[string]string) (kcv.Manager, error) { return sqlitekv.New(opts) },
}

var indexFactories = map[string]IndexFactory{
	inMemoryIndexImpl: func(opts map[string]string) (index.Provider, error) { return indexmem.New(opts) },
}

// Built-in shorthand defaults. The bundled resource may add or override
// entries; after start-up both tables are read-only.
var builtinStorageShorthands = map[string]string{
	"inmemory": inMemoryManagerImpl,
	"sqlite":   sqliteManagerImpl,
	"local":    sqliteManagerImpl,
}

var builtinIndexShorthands = map[string]string{
	"inmemory": inMemoryIndexImpl,
}

//go:embed registry.yaml
var registryResource []byte

type registryFile struct {
	Storage map[string]string `yaml:"storage"`
	Index   map[string]string `yaml:"index"`
}

var (
	shorthandOnce      sync.Once
	storageShorthands  map[string]string
	indexShorthands    map[string]string
	shorthandLoadError error
)

// loadShorthands seeds the shorthand tables from the built-in defaults
// plus the bundled resource. Runs exactly once per process.
func loadShorthands() {
	shorthandOnce.Do(func() {
		storageShorthands = make(map[string]string, len(builtinStorageShorthands))
		for k, v := range builtinStorageShorthands {
			storageShorthands[strings.ToLower(k)] = v
		}
		indexShorthands = make(map[string]string, len(builtinIndexShorthands))
		for k, v := range builtinIndexShorthands {
			indexShorthands[strings.ToLower(k)] = v
		}

		var res registryFile
		if err := yaml.Unmarshal(registryResource, &res); err != nil {
			shorthandLoadError = fmt.Errorf("parse bundled registry resource: %w", err)
			return
		}
		for k, v := range res.Storage {
			storageShorthands[strings.ToLower(k)] = v
		}
		for k, v := range res.Index {
			indexShorthands[strings.ToLower(k)] = v
		}
	})
}

// resolveIdentifier substitutes a registered shorthand (case-insensitive)
// or returns name unchanged for use as a literal identifier.
func resolveIdentifier(name string, shorthands map[string]string) string {
	if impl, ok := shorthands[strings.ToLower(name)]; ok {
		return impl
	}
	return name
}

// ResolveManager resolves name through the storage shorthand table and
// instantiates the implementation with opts. All failure modes (unknown
// identifier, construction failure) surface as configuration errors with
// the sub-cause preserved.
func ResolveManager(name string, opts map[string]string) (kcv.Manager, error) {
	loadShorthands()
	if shorthandLoadError != nil {
		return nil, configErr("resolve storage backend", "registry resource unusable", shorthandLoadError)
	}
	impl := resolveIdentifier(name, storageShorthands)
	factory, ok := managerFactories[impl]
	if !ok {
		return nil, configErr("resolve storage backend",
			fmt.Sprintf("could not find implementation %q", impl), nil)
	}
	manager, err := factory(opts)
	if err != nil {
		return nil, configErr("resolve storage backend",
			fmt.Sprintf("could not instantiate implementation %q", impl), err)
	}
	return manager, nil
}

// ResolveIndex resolves name through the index shorthand table and
// instantiates the provider with opts.
func ResolveIndex(name string, opts map[string]string) (index.Provider, error) {
	loadShorthands()
	if shorthandLoadError != nil {
		return nil, configErr("resolve index backend", "registry resource unusable", shorthandLoadError)
	}
	impl := resolveIdentifier(name, indexShorthands)
	factory, ok := indexFactories[impl]
	if !ok {
		return nil, configErr("resolve index backend",
			fmt.Sprintf("could not find implementation %q", impl), nil)
	}
	provider, err := factory(opts)
	if err != nil {
		return nil, configErr("resolve index backend",
			fmt.Sprintf("could not instantiate implementation %q", impl), err)
	}
	return provider, nil
}
