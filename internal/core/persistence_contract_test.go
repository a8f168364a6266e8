package core

import (
	"go/types"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestStorageImplementationsHardening ensures only the persistence packages
// provide concrete implementations of domain.Storage. A new backend needs an
// explicit update of the allowed list.
func TestStorageImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "circlereports/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var storage *types.Interface
	for _, p := range pkgs {
		if p.PkgPath == "circlereports/pkg/domain" {
			obj := p.Types.Scope().Lookup("Storage")
			if obj == nil {
				t.Fatalf("domain.Storage not found")
			}
			iface, ok := obj.Type().Underlying().(*types.Interface)
			if !ok {
				t.Fatalf("domain.Storage is not an interface")
			}
			storage = iface
		}
	}
	if storage == nil {
		t.Fatalf("failed to resolve Storage interface")
	}
	allowed := map[string]struct{}{
		"circlereports/internal/infra/persistence/fs":       {},
		"circlereports/internal/infra/persistence/memory":   {},
		"circlereports/internal/infra/persistence/sqlstore": {},
		"circlereports/internal/infra/persistence/sqlite":   {},
		"circlereports/internal/infra/persistence/postgres": {},
		"circlereports/internal/infra/persistence/badger":   {},
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			obj := p.Types.Scope().Lookup(name)
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			st, ok := named.Underlying().(*types.Struct)
			if !ok || st.NumFields() == 0 && named.NumMethods() == 0 {
				continue
			}
			if types.Implements(types.NewPointer(named), storage) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected domain.Storage implementations (update allowed list intentionally if adding a new backend):\nfile=%s:%d\n%s", filepath.Base(file), line, unexpected)
	}
}
