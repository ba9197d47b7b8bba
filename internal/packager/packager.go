// Package packager builds the installable extension archives of the plugin.
package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrPackagingFailed = errors.New("packaging failed")

const (
	versionPlaceholder = "{{version}}"
	licenseFile        = "license.txt"
	librariesDir       = "libraries"
	pluginsDir         = "plugins"
	packageDir         = "package"
)

// skipped files of an extension root, dependency manifests stay out of the archive
var skipped = map[string]bool{
	"composer.json": true,
	"composer.lock": true,
}

type Config struct {
	// Root holds src/, license.txt and optionally package.json
	Root string
	// Name of the package, the manifest is src/package/pkg_<Name>.xml
	Name string
	// Version substituted into manifests, read from package.json when empty
	Version string
	// Output directory of the package archive
	Output string
}

// Extension is one directory to be zipped
type Extension struct {
	Path string
	Name string
	// Type is empty for libraries, the plugin group otherwise
	Type string
}

func (e Extension) ArchiveName(version string) string {
	if e.Type == "" {
		return fmt.Sprintf("lib_%s_%s.zip", e.Name, version)
	}

	return fmt.Sprintf("plg_%s_%s_%s.zip", e.Type, e.Name, version)
}

// Archive is the zipped payload of one extension
type Archive struct {
	Name string
	Data []byte
}

type Packager struct {
	cfg    Config
	logger *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) (*Packager, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}

	if cfg.Name == "" {
		cfg.Name = "responsive"
	}

	if cfg.Output == "" {
		cfg.Output = filepath.Join(cfg.Root, "dist")
	}

	if cfg.Version == "" {
		v, err := readVersion(filepath.Join(cfg.Root, "package.json"))
		if err != nil {
			return nil, err
		}

		cfg.Version = v
	}

	return &Packager{cfg: cfg, logger: logger}, nil
}

// Build zips every extension concurrently and bundles the archives into the package.
// It returns the path of the package archive.
func (p *Packager) Build(ctx context.Context) (string, error) {
	extensions, err := p.Discover()
	if err != nil {
		return "", err
	}

	license, err := os.ReadFile(filepath.Join(p.cfg.Root, licenseFile))
	if err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not read license: %v", err)
	}

	results := make(chan Archive, len(extensions))
	g, ctx := errgroup.WithContext(ctx)

	for _, ext := range extensions {
		ext := ext
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			archive, err := ZipExtension(ext, p.cfg.Version, license)
			if err != nil {
				return err
			}

			p.logger.WithField("archive", archive.Name).Info("extension zipped")
			results <- archive

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	close(results)

	archives := make([]Archive, 0, len(extensions))
	for a := range results {
		archives = append(archives, a)
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].Name < archives[j].Name })

	return p.writePackage(archives, license)
}

// Discover lists src/libraries/* and src/plugins/<type>/*
func (p *Packager) Discover() ([]Extension, error) {
	src := filepath.Join(p.cfg.Root, "src")

	var result []Extension

	libs, err := subdirectories(filepath.Join(src, librariesDir))
	if err != nil {
		return nil, err
	}

	for _, lib := range libs {
		result = append(result, Extension{Path: filepath.Join(src, librariesDir, lib), Name: lib})
	}

	types, err := subdirectories(filepath.Join(src, pluginsDir))
	if err != nil {
		return nil, err
	}

	for _, t := range types {
		plugins, err := subdirectories(filepath.Join(src, pluginsDir, t))
		if err != nil {
			return nil, err
		}

		for _, plg := range plugins {
			result = append(result, Extension{Path: filepath.Join(src, pluginsDir, t, plg), Name: plg, Type: t})
		}
	}

	return result, nil
}

func (p *Packager) writePackage(archives []Archive, license []byte) (string, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	for _, a := range archives {
		if err := addBytes(zw, "packages/"+a.Name, a.Data); err != nil {
			return "", err
		}
	}

	pkgSrc := filepath.Join(p.cfg.Root, "src", packageDir)

	script, err := os.ReadFile(filepath.Join(pkgSrc, "pkg_script.php"))
	if err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not read package script: %v", err)
	}

	if err := addBytes(zw, "pkg_script.php", script); err != nil {
		return "", err
	}

	manifestName := "pkg_" + p.cfg.Name + ".xml"
	manifest, err := os.ReadFile(filepath.Join(pkgSrc, manifestName))
	if err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not read package manifest: %v", err)
	}

	if err := addBytes(zw, manifestName, withVersion(manifest, p.cfg.Version)); err != nil {
		return "", err
	}

	if err := addBytes(zw, licenseFile, license); err != nil {
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not finish package: %v", err)
	}

	if err := os.MkdirAll(p.cfg.Output, 0755); err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not create %s: %v", p.cfg.Output, err)
	}

	target := filepath.Join(p.cfg.Output, fmt.Sprintf("pkg_%s_%s.zip", p.cfg.Name, p.cfg.Version))
	if err := os.WriteFile(target, buf.Bytes(), 0644); err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "could not write %s: %v", target, err)
	}

	p.logger.WithField("package", target).Infof("%d extensions packaged", len(archives))

	return target, nil
}

// ZipExtension archives an extension directory. The manifest <name>.xml gets the
// version substituted, composer files of the root are left out and the license is appended.
func ZipExtension(ext Extension, version string, license []byte) (Archive, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	manifest := ext.Name + ".xml"

	err := filepath.Walk(ext.Path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(ext.Path, p)
		if err != nil || rel == "." || info.IsDir() {
			return err
		}

		rel = filepath.ToSlash(rel)
		topLevel := !strings.Contains(rel, "/")

		if topLevel && skipped[rel] {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		if topLevel && rel == manifest {
			data = withVersion(data, version)
		}

		return addBytes(zw, rel, data)
	})
	if err != nil {
		return Archive{}, errors.Wrapf(ErrPackagingFailed, "could not zip %s: %v", ext.Path, err)
	}

	if err := addBytes(zw, licenseFile, license); err != nil {
		return Archive{}, err
	}

	if err := zw.Close(); err != nil {
		return Archive{}, errors.Wrapf(ErrPackagingFailed, "could not finish %s: %v", ext.Name, err)
	}

	return Archive{Name: ext.ArchiveName(version), Data: buf.Bytes()}, nil
}

func addBytes(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return errors.Wrapf(ErrPackagingFailed, "could not add %s: %v", name, err)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(ErrPackagingFailed, "could not add %s: %v", name, err)
	}

	return nil
}

func withVersion(data []byte, version string) []byte {
	return bytes.ReplaceAll(data, []byte(versionPlaceholder), []byte(version))
}

// subdirectories of dir sorted by name, a missing dir has none
func subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(ErrPackagingFailed, "could not list %s: %v", dir, err)
	}

	var result []string
	for _, e := range entries {
		if e.IsDir() {
			result = append(result, e.Name())
		}
	}

	return result, nil
}

func readVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "no version given and %s unreadable: %v", path, err)
	}

	var pkg struct {
		Version string `json:"version"`
	}

	if err := json.Unmarshal(data, &pkg); err != nil || pkg.Version == "" {
		return "", errors.Wrapf(ErrPackagingFailed, "no version in %s", path)
	}

	return pkg.Version, nil
}
