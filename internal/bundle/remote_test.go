package bundle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error

	gets []string
	puts []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets = append(f.gets, *in.Key)
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *in.Key)
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func newTestRemote(t *testing.T, client S3API) *Remote {
	t.Helper()
	r, err := NewRemote(RemoteOptions{Bucket: "bundles", Prefix: "cache", Client: client})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	return r
}

// NewRemote

func TestNewRemote_RequiresBucketAndClient(t *testing.T) {
	if _, err := NewRemote(RemoteOptions{Client: newFakeS3()}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := NewRemote(RemoteOptions{Bucket: "b"}); err == nil {
		t.Fatal("expected error without client")
	}
}

// Fetch / Store

func TestRemote_StoreThenFetch(t *testing.T) {
	fake := newFakeS3()
	r := newTestRemote(t, fake)

	if err := r.Store(context.Background(), "abc.js", []byte("bundle body")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := r.Fetch(context.Background(), "abc.js")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "bundle body" {
		t.Fatalf("Fetch = %q", got)
	}
}

func TestRemote_PrefixedKeys(t *testing.T) {
	fake := newFakeS3()
	r := newTestRemote(t, fake)

	_ = r.Store(context.Background(), "abc.js", []byte("x"))
	if len(fake.puts) != 1 || fake.puts[0] != "cache/abc.js" {
		t.Fatalf("put keys = %v, want [cache/abc.js]", fake.puts)
	}
}

func TestRemote_NoPrefix(t *testing.T) {
	fake := newFakeS3()
	r, err := NewRemote(RemoteOptions{Bucket: "b", Client: fake})
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Store(context.Background(), "abc.js", []byte("x"))
	if fake.puts[0] != "abc.js" {
		t.Fatalf("put key = %q, want abc.js", fake.puts[0])
	}
}

func TestRemote_FetchMissing(t *testing.T) {
	r := newTestRemote(t, newFakeS3())
	if _, err := r.Fetch(context.Background(), "nope.js"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

// Cache integration

func TestGetOrCreate_RemoteHitSkipsSynthesis(t *testing.T) {
	fake := newFakeS3()
	r := newTestRemote(t, fake)

	m := sampleManifest()
	fake.objects["cache/"+m.Key()+".js"] = []byte("mirrored body")

	c, err := New(Options{Dir: t.TempDir(), Remote: r})
	if err != nil {
		t.Fatal(err)
	}

	p, created, err := c.GetOrCreate(context.Background(), m, "js", func(context.Context) ([]byte, error) {
		t.Fatal("synth must not run on remote hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("remote hit still creates the local artifact")
	}
	data, _ := readFileT(t, p)
	if string(data) != "mirrored body" {
		t.Fatalf("artifact = %q", data)
	}
}

func TestGetOrCreate_UploadsAfterSynthesis(t *testing.T) {
	fake := newFakeS3()
	r := newTestRemote(t, fake)
	m := sampleManifest()

	c, err := New(Options{Dir: t.TempDir(), Remote: r})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = c.GetOrCreate(context.Background(), m, "css", func(context.Context) ([]byte, error) {
		return []byte("b{}"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := fake.objects["cache/"+m.Key()+".css"]; string(got) != "b{}" {
		t.Fatalf("mirror object = %q, want b{}", got)
	}
}

func TestGetOrCreate_RemoteFailuresNonFatal(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("s3 down")
	fake.putErr = errors.New("s3 down")
	r := newTestRemote(t, fake)

	c, err := New(Options{Dir: t.TempDir(), Remote: r})
	if err != nil {
		t.Fatal(err)
	}

	p, created, err := c.GetOrCreate(context.Background(), sampleManifest(), "js", func(context.Context) ([]byte, error) {
		return []byte("local synth"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCreate should survive mirror outage: %v", err)
	}
	if !created {
		t.Fatal("expected local synthesis")
	}
	data, _ := readFileT(t, p)
	if string(data) != "local synth" {
		t.Fatalf("artifact = %q", data)
	}
}

func readFileT(t *testing.T, path string) ([]byte, error) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data, nil
}
