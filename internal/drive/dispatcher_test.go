package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-upsert/testutil"
)

// memStore is an in-memory Locator and Writer.
type memStore struct {
	mu      sync.Mutex
	files   map[string]Resource
	content map[string][]byte
	nextID  int

	lookupErr error
	// writeDelay widens the window between lookup and write.
	writeDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]Resource), content: make(map[string][]byte)}
}

func (m *memStore) FindByName(_ context.Context, name, parent string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupErr != nil {
		return "", false, m.lookupErr
	}

	for id, f := range m.files {
		if f.Name == name && f.Parent == parent {
			return id, true, nil
		}
	}

	return "", false, nil
}

func (m *memStore) Create(_ context.Context, content []byte, name, parent string) (*Resource, error) {
	time.Sleep(m.writeDelay)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r := Resource{ID: fmt.Sprintf("id-%d", m.nextID), Name: name, Parent: parent}
	m.files[r.ID] = r
	m.content[r.ID] = content

	return &r, nil
}

func (m *memStore) Update(_ context.Context, id string, content []byte, name string) (*Resource, error) {
	time.Sleep(m.writeDelay)

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.files[id]
	if !ok {
		return nil, &UploadError{Op: "update", ID: id, Kind: ErrRejected, Err: &APIError{StatusCode: http.StatusNotFound, Err: ErrNotFound}}
	}

	r.Name = name
	m.files[id] = r
	m.content[id] = content

	return &Resource{ID: r.ID, Name: r.Name}, nil
}

func (m *memStore) count(name, parent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for _, f := range m.files {
		if f.Name == name && f.Parent == parent {
			n++
		}
	}

	return n
}

func TestUpsert_EmptyLookupCreates(t *testing.T) {
	var methods []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)

		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"files": []}`))
			return
		}

		_, _ = w.Write([]byte(`{"id":"new-id","name":"x.jpg"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	res, err := NewDispatcher(c, c, nil).Upsert(t.Context(), []byte("img"), "x.jpg", "lot")
	require.NoError(t, err)

	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, Resource{ID: "new-id", Name: "x.jpg", Parent: "lot"}, res.Resource)
	assert.Equal(t, []string{"GET /files", "POST /upload/files"}, methods)
}

func TestUpsert_FoundLookupPatches(t *testing.T) {
	var methods []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)

		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"files": [{"id":"abc123","name":"x.jpg"}]}`))
			return
		}

		_, _ = w.Write([]byte(`{"id":"abc123","name":"x.jpg"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	res, err := NewDispatcher(c, c, nil).Upsert(t.Context(), []byte("img"), "x.jpg", "lot")
	require.NoError(t, err)

	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, Resource{ID: "abc123", Name: "x.jpg", Parent: "lot"}, res.Resource)
	assert.Equal(t, []string{"GET /files", "PATCH /upload/files/abc123"}, methods)
}

func TestUpsert_SequentialIsIdempotent(t *testing.T) {
	fd := testutil.NewFakeDrive(t)
	c := newFakeClient(t, fd)
	d := NewDispatcher(c, c, nil)

	first, err := d.Upsert(t.Context(), []byte("v1"), "x.jpg", "lot")
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Action)

	second, err := d.Upsert(t.Context(), []byte("v2"), "x.jpg", "lot")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, first.Resource.ID, second.Resource.ID)

	files := fd.Files("x.jpg", "lot")
	require.Len(t, files, 1)
	assert.Equal(t, []byte("v2"), files[0].Content)
	assert.Equal(t, 1, fd.Count(http.MethodPost))
	assert.Equal(t, 1, fd.Count(http.MethodPatch))
}

func TestUpsert_ConcurrentSameNameYieldsOneFile(t *testing.T) {
	fd := testutil.NewFakeDrive(t)
	c := newFakeClient(t, fd)
	d := NewDispatcher(c, c, nil)

	const n = 16

	var wg sync.WaitGroup

	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = d.Upsert(t.Context(), []byte(fmt.Sprintf("v%d", i)), "x.jpg", "lot")
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, fd.Files("x.jpg", "lot"), 1)
	assert.Equal(t, 1, fd.Count(http.MethodPost))
	assert.Equal(t, n-1, fd.Count(http.MethodPatch))
	assert.Zero(t, d.locks.Len())
}

func TestUpsert_ConcurrentWithSlowWrites(t *testing.T) {
	store := newMemStore()
	store.writeDelay = 5 * time.Millisecond
	d := NewDispatcher(store, store, nil)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := d.Upsert(t.Context(), []byte("x"), "x.jpg", "lot")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, store.count("x.jpg", "lot"))
}

func TestUpsert_DistinctKeysIndependent(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, store, nil)

	for _, key := range [][2]string{{"a.jpg", "lot"}, {"b.jpg", "lot"}, {"a.jpg", "other"}} {
		_, err := d.Upsert(t.Context(), []byte("x"), key[0], key[1])
		require.NoError(t, err)
	}

	assert.Equal(t, 1, store.count("a.jpg", "lot"))
	assert.Equal(t, 1, store.count("b.jpg", "lot"))
	assert.Equal(t, 1, store.count("a.jpg", "other"))
}

func TestUpsert_LookupFailureWritesNothing(t *testing.T) {
	store := newMemStore()
	store.lookupErr = &LookupError{Name: "x.jpg", Parent: "lot", Kind: ErrTransport, Err: errors.New("connection reset")}
	d := NewDispatcher(store, store, nil)

	_, err := d.Upsert(t.Context(), []byte("x"), "x.jpg", "lot")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Zero(t, store.count("x.jpg", "lot"))
}

func TestUpsert_DuplicateNamesRejected(t *testing.T) {
	fd := testutil.NewFakeDrive(t)
	fd.Put("x.jpg", "lot", []byte("a"))
	fd.Put("x.jpg", "lot", []byte("b"))

	c := newFakeClient(t, fd)

	_, err := NewDispatcher(c, c, nil).Upsert(t.Context(), []byte("c"), "x.jpg", "lot")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Zero(t, fd.Count(http.MethodPost))
	assert.Zero(t, fd.Count(http.MethodPatch))
}

func TestUpsert_CanceledWhileWaitingForLock(t *testing.T) {
	d := NewDispatcher(newMemStore(), newMemStore(), nil)

	unlock, err := d.locks.Lock(t.Context(), lockKey("lot", "x.jpg"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = d.Upsert(ctx, []byte("x"), "x.jpg", "lot")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpsert_DeadlineDuringUpload(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"files": []}`))
			return
		}

		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()

	_, err := NewDispatcher(c, c, nil).Upsert(ctx, []byte("x"), "x.jpg", "lot")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), 5*time.Second)
}
