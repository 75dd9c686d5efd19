package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"backups/health_data/20260310T120000Z.ndjson.gz", "a"}
	invalid := []string{"", "/abs", "a//b", "a/../b", "a/./b", "trailing/"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("expected %q valid, got %v", k, err)
		}
	}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("expected %q invalid, got %v", k, err)
		}
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	content := "hello world"

	info, err := store.Put(ctx, "backups/a.txt", "text/plain", strings.NewReader(content), map[string]string{"table": "a"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(content)) || info.SHA256 != fmt.Sprintf("%x", sha256.Sum256([]byte(content))) {
		t.Errorf("unexpected info %+v", info)
	}

	rc, got, err := store.Get(ctx, "backups/a.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != content || got.Metadata["table"] != "a" || got.ContentType != "text/plain" {
		t.Errorf("unexpected object %q %+v", data, got)
	}

	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "backups/a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "backups/a.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, k := range []string{"b/2", "a/1", "b/1", "c"} {
		if _, err := store.Put(ctx, k, "", strings.NewReader(k), nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.List(ctx, "b/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Key != "b/1" || got[1].Key != "b/2" {
		t.Errorf("unexpected listing %+v", got)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 4 {
		t.Errorf("expected 4 objects, got %d", len(all))
	}
}

func TestMemoryStore_ConcurrentPuts(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Put(context.Background(), fmt.Sprintf("k/%d", i), "", strings.NewReader("x"), nil)
		}(i)
	}
	wg.Wait()
	all, _ := store.List(context.Background(), "k/")
	if len(all) != 50 {
		t.Errorf("expected 50 objects, got %d", len(all))
	}
}

// fakeS3 keeps objects in a map and serves list pages of two keys.
type fakeS3 struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      f.meta[aws.ToString(in.Key)],
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	api := newFakeS3()
	store := NewS3Store(api, "healthmate-backups")
	ctx := context.Background()

	info, err := store.Put(ctx, "backups/x.gz", "application/gzip", strings.NewReader("payload"), map[string]string{"rows": "3"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if api.meta["backups/x.gz"][metaSHA256] != info.SHA256 || api.meta["backups/x.gz"]["rows"] != "3" {
		t.Errorf("metadata not stored: %+v", api.meta)
	}

	rc, got, err := store.Get(ctx, "backups/x.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "payload" || got.SHA256 != info.SHA256 || got.Size != 7 {
		t.Errorf("unexpected object %q %+v", data, got)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	for _, k := range []string{"backups/a", "backups/b", "backups/c", "other/d"} {
		_, _ = store.Put(ctx, k, "", strings.NewReader(k), nil)
	}
	list, err := store.List(ctx, "backups/")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 {
		t.Errorf("expected all pages listed, got %d", len(list))
	}

	if _, err := store.Put(ctx, "../escape", "", strings.NewReader(""), nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected invalid key, got %v", err)
	}
	api.putErr = errors.New("access denied")
	if _, err := store.Put(ctx, "backups/z", "", strings.NewReader(""), nil); err == nil {
		t.Error("expected put error")
	}
}
