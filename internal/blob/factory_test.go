package blob

import (
	"circlereports/internal/config"
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.Blob
		want Driver
	}{
		{config.Blob{Root: t.TempDir()}, DriverFilesystem},
		{config.Blob{Driver: "fs", Root: t.TempDir()}, DriverFilesystem},
		{config.Blob{Driver: "memory"}, DriverMemory},
		{config.Blob{Driver: "s3", S3: config.S3{Bucket: "archives", Region: "eu-west-1", Endpoint: "https://minio.local", PathStyle: true}}, DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", tc.cfg, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, store.Driver())
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Blob{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(context.Background(), config.Blob{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
