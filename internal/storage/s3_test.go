package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	puts    map[string]string
	listed  []string
	objects string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.puts[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		f.listed = append(f.listed, r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, f.objects)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestService(t *testing.T, fake *fakeS3) *S3Service {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(srv.URL),
		UsePathStyle:     true,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
	return NewS3Service(client)
}

func TestPutObjectUploadsBody(t *testing.T) {
	fake := &fakeS3{puts: map[string]string{}}
	svc := newTestService(t, fake)

	location, err := svc.PutObject(context.Background(), strings.NewReader(`[{"title":"export me"}]`), PutOptions{
		Bucket:      "exports",
		Key:         "/taskhub/tasks-1.json",
		ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/taskhub/tasks-1.json", location)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Contains(t, fake.puts, "/exports/taskhub/tasks-1.json")
	assert.Contains(t, fake.puts["/exports/taskhub/tasks-1.json"], `"title":"export me"`)
}

func TestPutObjectRequiresDestination(t *testing.T) {
	svc := newTestService(t, &fakeS3{puts: map[string]string{}})

	_, err := svc.PutObject(context.Background(), strings.NewReader("{}"), PutOptions{Key: "a.json"})
	assert.Error(t, err)
	_, err = svc.PutObject(context.Background(), strings.NewReader("{}"), PutOptions{Bucket: "exports"})
	assert.Error(t, err)
}

func TestListObjects(t *testing.T) {
	fake := &fakeS3{objects: `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>exports</Name>
  <Prefix>taskhub/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>taskhub/tasks-1.json</Key>
    <LastModified>2026-01-02T03:04:05.000Z</LastModified>
    <Size>42</Size>
  </Contents>
  <Contents>
    <Key>taskhub/tasks-2.json</Key>
    <LastModified>2026-01-03T03:04:05.000Z</LastModified>
    <Size>7</Size>
  </Contents>
</ListBucketResult>`}
	svc := newTestService(t, fake)

	objects, err := svc.ListObjects(context.Background(), "exports", "taskhub/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "taskhub/tasks-1.json", objects[0].Key)
	assert.Equal(t, int64(42), objects[0].Size)
	require.NotNil(t, objects[1].LastModified)
	assert.Equal(t, 3, objects[1].LastModified.Day())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"taskhub/"}, fake.listed)
}
