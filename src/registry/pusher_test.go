package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/credential"
)

// memRegistry serves the subset of the distribution API that a push uses.
type memRegistry struct {
	mu        sync.Mutex
	repo      string
	blobs     map[digest.Digest][]byte
	manifests map[string][]byte // digest or tag → content
	types     map[string]string // digest or tag → media type
	uploads   int
}

func newMemRegistry(repo string) *memRegistry {
	return &memRegistry{
		repo:      repo,
		blobs:     map[digest.Digest][]byte{},
		manifests: map[string][]byte{},
		types:     map[string]string{},
	}
}

func (m *memRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := "/v2/" + m.repo + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case r.Method == http.MethodPost && rest == "blobs/uploads/":
		m.uploads++
		w.Header().Set("Location", prefix+"blobs/uploads/"+strconv.Itoa(m.uploads))
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodPut && strings.HasPrefix(rest, "blobs/uploads/"):
		data, _ := io.ReadAll(r.Body)
		want := digest.Digest(r.URL.Query().Get("digest"))
		if digest.FromBytes(data) != want {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.blobs[want] = data
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodHead && strings.HasPrefix(rest, "blobs/"):
		d := digest.Digest(strings.TrimPrefix(rest, "blobs/"))
		data, ok := m.blobs[d]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Docker-Content-Digest", d.String())
		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(rest, "manifests/"):
		ref := strings.TrimPrefix(rest, "manifests/")
		m.serveManifest(w, r, ref)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *memRegistry) serveManifest(w http.ResponseWriter, r *http.Request, ref string) {
	if r.Method == http.MethodPut {
		data, _ := io.ReadAll(r.Body)
		d := digest.FromBytes(data)
		mt := r.Header.Get("Content-Type")
		for _, key := range []string{ref, d.String()} {
			m.manifests[key] = data
			m.types[key] = mt
		}
		w.Header().Set("Docker-Content-Digest", d.String())
		w.WriteHeader(http.StatusCreated)
		return
	}

	data, ok := m.manifests[ref]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", m.types[ref])
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Docker-Content-Digest", digest.FromBytes(data).String())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

func (m *memRegistry) hasBlob(d digest.Digest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[d]
	return ok
}

// writeImageLayout writes a one-layer image as an OCI layout and returns the
// layer and config digests.
func writeImageLayout(t *testing.T, dir string) (layer, config digest.Digest) {
	t.Helper()
	put := func(data []byte) digest.Digest {
		d := digest.FromBytes(data)
		p := filepath.Join(dir, ocispec.ImageBlobsDir, d.Algorithm().String(), d.Encoded())
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return d
	}

	layerData := []byte("app binary as a layer")
	configData := []byte(`{"architecture":"amd64","os":"linux"}`)
	layer, config = put(layerData), put(configData)

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: config, Size: int64(len(configData))},
		Layers:    []ocispec.Descriptor{{MediaType: ocispec.MediaTypeImageLayer, Digest: layer, Size: int64(len(layerData))}},
	}
	manifestData, err := json.Marshal(manifest)
	require.NoError(t, err)
	md := put(manifestData)

	idx := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		Manifests: []ocispec.Descriptor{{MediaType: ocispec.MediaTypeImageManifest, Digest: md, Size: int64(len(manifestData))}},
	}
	idxData, err := json.Marshal(idx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ocispec.ImageIndexFile), idxData, 0o644))

	layout, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ocispec.ImageLayoutFile), layout, 0o644))
	return layer, config
}

func TestORASPusherPushesLayoutAndTag(t *testing.T) {
	reg := newMemRegistry("team/app")
	srv := httptest.NewServer(reg)
	defer srv.Close()

	dir := t.TempDir()
	layer, config := writeImageLayout(t, dir)
	desc, err := build.ReadLayout(dir)
	require.NoError(t, err)
	art := &build.Artifact{Name: "team/app", Digest: desc.Digest, Descriptor: desc, LayoutDir: dir}

	target := Target{Registry: strings.TrimPrefix(srv.URL, "http://"), Repository: "team/app", PlainHTTP: true}
	p := ORASPusher{HTTPClient: srv.Client()}
	ctx := context.Background()

	_, err = p.Resolve(ctx, target, testCredential(), "1.4.0")
	require.ErrorIs(t, err, ErrTagNotFound)

	require.NoError(t, p.Push(ctx, target, testCredential(), art, "1.4.0"))

	assert.True(t, reg.hasBlob(layer), "layer uploaded")
	assert.True(t, reg.hasBlob(config), "config uploaded")

	got, err := p.Resolve(ctx, target, testCredential(), "1.4.0")
	require.NoError(t, err)
	assert.Equal(t, art.Digest, got)
}

func TestORASPusherThroughPublisherIsIdempotent(t *testing.T) {
	reg := newMemRegistry("team/app")
	srv := httptest.NewServer(reg)
	defer srv.Close()

	dir := t.TempDir()
	writeImageLayout(t, dir)
	desc, err := build.ReadLayout(dir)
	require.NoError(t, err)
	art := &build.Artifact{Name: "team/app", Digest: desc.Digest, Descriptor: desc, LayoutDir: dir}

	pub := testPublisher(ORASPusher{HTTPClient: srv.Client()}, 2)
	pub.PlainHTTP = true
	host := strings.TrimPrefix(srv.URL, "http://")
	cred := credential.NewCredential("ci", host, "AWS", "s3cr3t-token",
		[]string{credential.ScopePush, credential.ScopePull}, fixedNow.Add(time.Hour))

	first, err := pub.Publish(context.Background(), art, cred, "latest")
	require.NoError(t, err)
	assert.False(t, first.AlreadyPresent)

	reg.mu.Lock()
	uploads := reg.uploads
	reg.mu.Unlock()

	second, err := pub.Publish(context.Background(), art, cred, "latest")
	require.NoError(t, err)
	assert.True(t, second.AlreadyPresent)
	assert.Equal(t, first.Digest, second.Digest)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Equal(t, uploads, reg.uploads, "nothing is uploaded twice")
}
