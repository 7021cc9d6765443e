// Package source defines the small set of capabilities the coverage core treats as
// injected collaborators rather than implementing itself: mapping a source URI to a
// filesystem path, and loading a file's lines back off disk.
package source

// Resolver maps a source URI (e.g. "package:foo/bar.dart") to a local filesystem path.
// A false second return means the URI could not be resolved; callers drop the associated
// coverage entry rather than failing outright (UnresolvedSource).
type Resolver interface {
	Resolve(uri string) (path string, ok bool)
}

// ResolverFunc adapts a plain function to a Resolver.
type ResolverFunc func(uri string) (string, bool)

// Resolve calls f(uri).
func (f ResolverFunc) Resolve(uri string) (string, bool) {
	return f(uri)
}

// Loader returns a file's contents split into lines, used for ignore-directive scanning and
// pretty-print annotation. A false second return means the file could not be read.
type Loader interface {
	Load(path string) (lines []string, ok bool)
}

// LoaderFunc adapts a plain function to a Loader.
type LoaderFunc func(path string) ([]string, bool)

// Load calls f(path).
func (f LoaderFunc) Load(path string) ([]string, bool) {
	return f(path)
}
