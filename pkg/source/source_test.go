package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dbbot/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "object",
			ref:        "s3://results/ci/run-1/output.xml",
			wantBucket: "results",
			wantKey:    "ci/run-1/output.xml",
		},
		{
			name:       "prefix",
			ref:        "s3://results/ci/",
			wantBucket: "results",
			wantKey:    "ci/",
		},
		{
			name:       "whole bucket",
			ref:        "s3://results",
			wantBucket: "results",
			wantKey:    "",
		},
		{
			name:    "wrong scheme",
			ref:     "gs://results/output.xml",
			wantErr: true,
		},
		{
			name:    "missing bucket",
			ref:     "s3:///output.xml",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.ref)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestIsS3URL(t *testing.T) {
	assert.True(t, IsS3URL("s3://bucket/key.xml"))
	assert.False(t, IsS3URL("/tmp/s3://odd.xml"))
	assert.False(t, IsS3URL("output.xml"))
}

func TestResolver_ExpandLocal(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"b.xml", "a.XML", "notes.txt", "nested/c.xml"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("<robot/>"), 0o644))
	}

	single := filepath.Join(dir, "notes.txt")

	r := NewResolver(testLogger(), nil)

	refs, err := r.Expand(context.Background(), []string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.XML"),
		filepath.Join(dir, "b.xml"),
		filepath.Join(dir, "nested", "c.xml"),
		single,
	}, refs)
}

func TestResolver_ExpandMissingPath(t *testing.T) {
	r := NewResolver(testLogger(), nil)

	_, err := r.Expand(context.Background(), []string{"/definitely/not/here.xml"})
	require.Error(t, err)
}

func TestResolver_S3Disabled(t *testing.T) {
	r := NewResolver(testLogger(), nil)

	_, err := r.Expand(context.Background(), []string{"s3://bucket/out.xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 source is not enabled")

	_, err = r.Open(context.Background(), "s3://bucket/out.xml")
	require.Error(t, err)
}

func TestResolver_OpenLocal(t *testing.T) {
	r := NewResolver(testLogger(), nil)

	doc, err := r.Open(context.Background(), "output.xml")
	require.NoError(t, err)
	assert.Equal(t, "output.xml", doc.Path)
	assert.Empty(t, doc.Source)

	doc.Close()
}

// fakeS3 serves a minimal path-style S3 API: ListObjectsV2 on the bucket and
// GetObject on keys.
func fakeS3(t *testing.T, bucket string, objects map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p := strings.TrimPrefix(req.URL.Path, "/"+bucket)
		p = strings.TrimPrefix(p, "/")

		if req.URL.Query().Get("list-type") == "2" {
			prefix := req.URL.Query().Get("prefix")

			var contents strings.Builder

			count := 0

			for key, body := range objects {
				if !strings.HasPrefix(key, prefix) {
					continue
				}

				count++
				fmt.Fprintf(&contents, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", key, len(body))
			}

			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`+
				`<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount>`+
				`<MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
				bucket, prefix, count, contents.String())

			return
		}

		body, ok := objects[p]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)

			return
		}

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))

	t.Cleanup(srv.Close)

	return srv
}

func newTestS3Reader(t *testing.T, endpoint string) *S3Reader {
	t.Helper()

	return NewS3Reader(testLogger(), &config.S3SourceConfig{
		Enabled:         true,
		EndpointURL:     endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
		DownloadDir:     t.TempDir(),
	})
}

func TestS3Reader_ExpandPrefix(t *testing.T) {
	srv := fakeS3(t, "results", map[string]string{
		"ci/run-2/output.xml": "<robot/>",
		"ci/run-1/output.xml": "<robot/>",
		"ci/run-1/log.html":   "<html/>",
		"other/output.xml":    "<robot/>",
	})

	r := newTestS3Reader(t, srv.URL)

	refs, err := r.Expand(context.Background(), "s3://results/ci/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"s3://results/ci/run-1/output.xml",
		"s3://results/ci/run-2/output.xml",
	}, refs)

	// An object URL is returned as is, without listing.
	refs, err = r.Expand(context.Background(), "s3://results/other/output.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://results/other/output.xml"}, refs)
}

func TestS3Reader_Download(t *testing.T) {
	srv := fakeS3(t, "results", map[string]string{
		"ci/output.xml": `<robot generator="test"/>`,
	})

	r := newTestS3Reader(t, srv.URL)

	doc, err := r.Download(context.Background(), "s3://results/ci/output.xml")
	require.NoError(t, err)
	assert.Equal(t, "s3://results/ci/output.xml", doc.Source)
	assert.Equal(t, ".xml", filepath.Ext(doc.Path))

	data, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	assert.Equal(t, `<robot generator="test"/>`, string(data))

	doc.Close()

	_, err = os.Stat(doc.Path)
	assert.ErrorIs(t, err, os.ErrNotExist, "Close removes the temp file")
}

func TestS3Reader_DownloadMissing(t *testing.T) {
	srv := fakeS3(t, "results", map[string]string{})

	r := newTestS3Reader(t, srv.URL)

	_, err := r.Download(context.Background(), "s3://results/nope.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
