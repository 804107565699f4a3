package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Document is a result document ready to be read from local disk.
type Document struct {
	// Path is the local file holding the document bytes.
	Path string

	// Source is the declared location recorded for the run, e.g. the s3://
	// URL of a downloaded object. Empty means the parsed document's own path.
	Source string

	cleanup func()
}

// Close releases temporary resources held by the document.
func (d *Document) Close() {
	if d.cleanup != nil {
		d.cleanup()
		d.cleanup = nil
	}
}

// Local returns a Document for a file on local disk.
func Local(path string) Document {
	return Document{Path: path}
}

// Resolver expands command line arguments into document references and
// materializes them as local files.
type Resolver interface {
	// Expand turns files, directories and s3:// URLs into a sorted list of
	// document references. Directories and prefixes contribute *.xml files.
	Expand(ctx context.Context, args []string) ([]string, error)

	// Open makes the referenced document available on local disk.
	Open(ctx context.Context, ref string) (Document, error)
}

// Compile-time interface check.
var _ Resolver = (*resolver)(nil)

type resolver struct {
	log logrus.FieldLogger
	s3  *S3Reader
}

// NewResolver creates a Resolver. s3 may be nil, in which case s3://
// arguments are rejected.
func NewResolver(log logrus.FieldLogger, s3 *S3Reader) Resolver {
	return &resolver{
		log: log.WithField("component", "source"),
		s3:  s3,
	}
}

func (r *resolver) Expand(ctx context.Context, args []string) ([]string, error) {
	var refs []string

	for _, arg := range args {
		if IsS3URL(arg) {
			if r.s3 == nil {
				return nil, fmt.Errorf("%s: S3 source is not enabled", arg)
			}

			keys, err := r.s3.Expand(ctx, arg)
			if err != nil {
				return nil, err
			}

			refs = append(refs, keys...)

			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}

		if !info.IsDir() {
			refs = append(refs, arg)

			continue
		}

		found, err := findXML(arg)
		if err != nil {
			return nil, err
		}

		r.log.WithFields(logrus.Fields{
			"dir":       arg,
			"documents": len(found),
		}).Debug("Expanded directory")

		refs = append(refs, found...)
	}

	return refs, nil
}

func (r *resolver) Open(ctx context.Context, ref string) (Document, error) {
	if IsS3URL(ref) {
		if r.s3 == nil {
			return Document{}, fmt.Errorf("%s: S3 source is not enabled", ref)
		}

		return r.s3.Download(ctx, ref)
	}

	return Local(ref), nil
}

// findXML returns every *.xml file under dir, sorted.
func findXML(dir string) ([]string, error) {
	var found []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".xml") {
			found = append(found, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", dir, err)
	}

	sort.Strings(found)

	return found, nil
}
