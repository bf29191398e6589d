package process

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/dwebshell/core/internal/domain/module"
	"go.uber.org/zap"
)

// Installer receives the factories built from manifest files
type Installer interface {
	Install(f module.Factory) error
}

// Seeder installs process modules from manifest files on disk
type Seeder struct {
	installer Installer
	dir       string
	opts      Options
	logger    *zap.Logger
}

// NewSeeder creates a seeder for the manifests below dir
func NewSeeder(installer Installer, dir string, opts Options, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		installer: installer,
		dir:       dir,
		opts:      opts,
		logger:    logger,
	}
}

// Seed installs every manifest below the directory. A file that fails
// to parse or install is logged and skipped; the count of installed
// modules is returned.
func (s *Seeder) Seed() (int, error) {
	if s.dir == "" {
		return 0, nil
	}
	s.logger.Info("seeding process modules", zap.String("dir", s.dir))

	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("manifest directory not found", zap.String("dir", s.dir))
		return 0, nil
	}

	paths, err := Discover(s.dir)
	if err != nil {
		return 0, err
	}

	var loaded, failed int
	for _, path := range paths {
		spec, err := s.load(path)
		if err != nil {
			s.logger.Warn("failed to load manifest", zap.String("file", filepath.Base(path)), zap.Error(err))
			failed++
			continue
		}
		s.logger.Info("loaded manifest",
			zap.String("file", filepath.Base(path)),
			zap.String("module", spec.Module.ID),
		)
		loaded++
	}

	s.logger.Info("seeding complete", zap.Int("loaded", loaded), zap.Int("failed", failed))
	return loaded, nil
}

func (s *Seeder) load(path string) (*Spec, error) {
	spec, err := LoadSpec(path)
	if err != nil {
		return nil, err
	}
	if err := s.installer.Install(NewFactory(spec, s.opts)); err != nil {
		return nil, err
	}
	return spec, nil
}
