package s3

import (
	"bytes"
	"circlereports/internal/blob/core"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestStore_MockedBasicFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	info, err := store.Put(ctx, "backups/a.json", bytes.NewReader([]byte("[]")), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"backup-id": "b1", "records": "0"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "backups/a.json" || info.ContentType != "application/json" || info.Size != 2 {
		t.Fatalf("unexpected info %#v", info)
	}
	if info.Metadata["backup-id"] != "b1" || info.Metadata["records"] != "0" {
		t.Fatalf("metadata not round-tripped: %#v", info.Metadata)
	}
	if _, err := store.Put(ctx, "backups/a.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "backups/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "[]" {
		t.Fatalf("get mismatch: %q", string(data))
	}
	if ok, err := store.Delete(ctx, "backups/a.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "backups/a.json"); err != nil || ok {
		t.Fatalf("second delete should report missing: %v %v", ok, err)
	}
}

func TestStore_NotFoundMapping(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	store := newMockStore(1)
	ctx := context.Background()
	for _, k := range []string{"p/c", "p/a", "q/z", "p/b"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte(k)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "p/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Key != "p/a" || list[2].Key != "p/c" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list, err := store.List(ctx, "none/"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, list)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	s, err := New(context.Background(), Config{Bucket: "bkt", Endpoint: "https://mock.s3.local", PathStyle: true, AccessKeyID: "AKIA", SecretAccessKey: "SECRET"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 || s.Bucket() != "bkt" {
		t.Fatalf("unexpected store %+v", s)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected failure on plain body")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc")); ok {
		t.Fatalf("short chunk should fail")
	}
	b, ok := decodeChunked([]byte("5\r\nhello\r\n3;chunk-signature=x\r\n!!!\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	if !ok || string(b) != "hello!!!" {
		t.Fatalf("decode: %q %v", b, ok)
	}
}

func TestMockTransportUnsupported(t *testing.T) {
	rt := &mockTransport{objects: make(map[string]mockObject), pageSize: 1}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}
