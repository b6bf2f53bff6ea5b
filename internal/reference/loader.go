package reference

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Default returns the built-in catalog.
func Default() Catalog {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		panic(err)
	}
	c, err := loadFS(sub)
	if err != nil {
		panic(fmt.Sprintf("reference: embedded defaults: %v", err))
	}
	return c
}

// LoadEnumCatalog reads every *.yaml/*.yml in dir on top of the built-in
// defaults. A file replaces the default directory with the same name.
// An empty dir yields the defaults.
func LoadEnumCatalog(dir string) (Catalog, error) {
	result := Default()
	if strings.TrimSpace(dir) == "" {
		return result, nil
	}
	extra, err := loadFS(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load enum catalog %s: %w", dir, err)
	}
	for name, d := range extra {
		result[name] = d
	}
	return result, nil
}

func loadFS(fsys fs.FS) (Catalog, error) {
	result := make(Catalog)
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := filepath.Ext(file.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name(), err)
		}
		// directory name comes from the file body, else from the file name
		enumName := enumDir.Name
		if enumName == "" {
			enumName = strings.TrimSuffix(file.Name(), ext)
			enumDir.Name = enumName
		}
		result[enumName] = enumDir
	}
	return result, nil
}
