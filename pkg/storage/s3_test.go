package storage_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/resumesite/oidc-gatekeeper/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3Stub records requests and plays back stored bodies, standing in
// for the bucket endpoint.
type s3Stub struct {
	*httptest.Server
	objects map[string][]byte
	types   map[string]string
}

func newS3Stub(t *testing.T) *s3Stub {
	t.Helper()

	stub := &s3Stub{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/test-bucket/")

		switch r.Method {
		case http.MethodPut:
			data, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			stub.objects[key] = data
			stub.types[key] = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			data, ok := stub.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(stub.Close)

	return stub
}

func newTestStore(t *testing.T) (*storage.S3Store, *s3Stub) {
	t.Helper()

	stub := newS3Stub(t)
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(stub.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})

	return storage.NewS3StoreWithClient(client, "test-bucket"), stub
}

func TestS3Store_Put(t *testing.T) {
	store, stub := newTestStore(t)

	err := store.Put(context.Background(), "uploads/resume.pdf", strings.NewReader("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, []byte("%PDF-1.7"), stub.objects["uploads/resume.pdf"])
	assert.Equal(t, "application/pdf", stub.types["uploads/resume.pdf"])
}

func TestS3Store_Get(t *testing.T) {
	store, stub := newTestStore(t)
	stub.objects["uploads/photo.png"] = []byte("png-bytes")

	body, err := store.Get(context.Background(), "uploads/photo.png")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestS3Store_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "uploads/nope.pdf")
	assert.Error(t, err)
}

func TestS3Store_PutBodyReadFailure(t *testing.T) {
	store, stub := newTestStore(t)

	err := store.Put(context.Background(), "uploads/broken", failingReader{}, "application/pdf")
	require.Error(t, err)
	assert.Empty(t, stub.objects)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
