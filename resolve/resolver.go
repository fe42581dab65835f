// Package resolve loads built artifacts and their co-located source maps,
// producing the inputs the converter needs to attribute coverage recorded
// against build output back to original sources.
package resolve

import (
	"encoding/json"
	"path/filepath"

	"github.com/go-sourcemap/sourcemap"
	"github.com/spf13/afero"

	"github.com/parkuman/cypress-code-coverage-v8/log"
)

// Source is a resolved built artifact: its text plus, when available, its
// parsed source map and the map's sources rewritten to absolute paths rooted
// at the build directory.
type Source struct {
	// Path is the absolute path of the built artifact.
	Path string
	// Text is the artifact's content.
	Text string
	// Map is the parsed source map, or nil when the artifact has none.
	Map *sourcemap.Consumer
	// OriginalSources are the map's "sources" entries as absolute paths.
	// Empty when Map is nil.
	OriginalSources []string

	buildDir string
}

// HasMap reports whether back-translation through a source map is possible.
func (s *Source) HasMap() bool {
	return s.Map != nil
}

// AbsSource rewrites one map-relative source path to its absolute form.
func (s *Source) AbsSource(source string) string {
	if filepath.IsAbs(source) {
		return filepath.Clean(source)
	}
	return filepath.Join(s.buildDir, source)
}

// Resolver loads built files and their maps from the build directory.
type Resolver struct {
	fs       afero.Fs
	buildDir string
	logger   *log.Logger
}

// New returns a Resolver rooted at buildDir.
func New(fs afero.Fs, buildDir string, logger *log.Logger) *Resolver {
	return &Resolver{fs: fs, buildDir: buildDir, logger: logger}
}

// Resolve reads the built artifact and, if a co-located .map file exists and
// parses, its source map. A missing or unparsable map is recoverable: the
// artifact is then treated as its own original source and a diagnostic is
// emitted.
func (r *Resolver) Resolve(builtPath string) (*Source, error) {
	text, err := afero.ReadFile(r.fs, builtPath)
	if err != nil {
		return nil, err
	}

	src := &Source{
		Path:     builtPath,
		Text:     string(text),
		buildDir: r.buildDir,
	}

	mapPath := builtPath + ".map"
	mapData, err := afero.ReadFile(r.fs, mapPath)
	if err != nil {
		r.logger.Debugf("cov:resolve", "no source map at %s, using built file as original source", mapPath)
		return src, nil
	}

	consumer, err := sourcemap.Parse(mapPath, mapData)
	if err != nil {
		r.logger.Warnf("cov:resolve", "couldn't parse source map %s: %v", mapPath, err)
		return src, nil
	}
	src.Map = consumer

	// The consumer resolves positions; the raw "sources" list is decoded
	// separately so callers can enumerate the original files.
	var rawMap struct {
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal(mapData, &rawMap); err == nil {
		for _, s := range rawMap.Sources {
			src.OriginalSources = append(src.OriginalSources, src.AbsSource(s))
		}
	}

	return src, nil
}

// BuiltPath maps a script URL path to the absolute location of the built
// artifact, per the filesystem layout contract buildDir+urlPath.
func (r *Resolver) BuiltPath(urlPath string) string {
	return filepath.Join(r.buildDir, filepath.FromSlash(urlPath))
}
