package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := parseS3Ref("s3://traces-bucket/traces/abc.json.zst")
	require.NoError(t, err)
	assert.Equal(t, "traces-bucket", bucket)
	assert.Equal(t, "traces/abc.json.zst", key)

	for _, bad := range []string{"", "http://b/k", "s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, err := parseS3Ref(bad)
		assert.Error(t, err, bad)
	}
}

func TestGetJSONDecompresses(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	body := enc.EncodeAll([]byte(`{"outputs": [], "errors": [{"ename": "ValueError"}]}`), nil)
	require.NoError(t, enc.Close())

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, err := New(context.Background(), S3Config{
		Endpoint:  srv.URL,
		Bucket:    "archive",
		AccessKey: "minio",
		SecretKey: "minio123",
	}, nil)
	require.NoError(t, err)

	var got struct {
		Outputs []any            `json:"outputs"`
		Errors  []map[string]any `json:"errors"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "s3://archive/traces/run-1.json.zst", &got))
	assert.Equal(t, "/archive/traces/run-1.json.zst", gotPath)
	assert.Empty(t, got.Outputs)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "ValueError", got.Errors[0]["ename"])
}

func TestGetJSONRejectsBadRef(t *testing.T) {
	c, err := New(context.Background(), S3Config{Endpoint: "localhost:9000", Bucket: "archive"}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, c.GetJSON(context.Background(), "archive/key", &struct{}{}), "missing s3://")
}
