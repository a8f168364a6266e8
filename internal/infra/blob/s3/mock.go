package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const metaHeaderPrefix = "X-Amz-Meta-"

// NewMockForTests returns a Store backed by an in-memory fake HTTP transport.
// Only the S3 operations the Store uses are implemented.
func NewMockForTests() *Store {
	return newMockStore(1000)
}

func newMockStore(pageSize int) *Store {
	rt := &mockTransport{objects: make(map[string]mockObject), pageSize: pageSize}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// mockTransport serves path-style Head/Get/Put/Delete/ListObjectsV2 requests.
type mockTransport struct {
	mu       sync.Mutex
	objects  map[string]mockObject
	pageSize int
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := m.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, obj.headers(), nil), nil
	case http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			body := []byte("<?xml version=\"1.0\"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>")
			return respond(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}}, body), nil
		}
		return respond(http.StatusOK, obj.headers(), obj.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if decoded, ok := decodeChunked(body); ok {
				body = decoded
			}
		}
		obj := mockObject{body: body, contentType: req.Header.Get("Content-Type"), modified: time.Now().UTC()}
		for name, values := range req.Header {
			if len(name) > len(metaHeaderPrefix) && strings.EqualFold(name[:len(metaHeaderPrefix)], metaHeaderPrefix) && len(values) > 0 {
				if obj.metadata == nil {
					obj.metadata = make(map[string]string)
				}
				obj.metadata[strings.ToLower(name[len(metaHeaderPrefix):])] = values[0]
			}
		}
		m.objects[key] = obj
		return respond(http.StatusOK, http.Header{"ETag": {"\"etag\""}}, nil), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (m *mockTransport) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	after := q.Get("continuation-token")
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := len(keys) > m.pageSize
	if truncated {
		keys = keys[:m.pageSize]
	}
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult>")
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&b, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>\"etag\"</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func (o mockObject) headers() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Content-Type":   {o.contentType},
		"ETag":           {"\"etag\""},
		"Last-Modified":  {o.modified.Format(http.TimeFormat)},
	}
	for k, v := range o.metadata {
		h.Set(metaHeaderPrefix+k, v)
	}
	return h
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

// decodeChunked strips aws-chunked framing: <hex>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		if n == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return nil, false
		}
		if _, err := r.Discard(2); err != nil {
			return nil, false
		}
	}
}
