package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
)

// FakeToken is the bearer token FakeDrive accepts.
const FakeToken = "fake-access-token"

var (
	nameQueryRE   = regexp.MustCompile(`^name='((?:[^'\\]|\\.)*)' and '((?:[^'\\]|\\.)*)' in parents and trashed=false$`)
	parentQueryRE = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)' in parents and trashed=false$`)
	unescapeQuery = strings.NewReplacer(`\\`, `\`, `\'`, `'`)
)

// FakeFile is a file stored by FakeDrive.
type FakeFile struct {
	ID      string
	Name    string
	Parent  string
	Content []byte
}

// FakeRequest records one request FakeDrive served.
type FakeRequest struct {
	Method string
	Path   string
	Query  string
}

// FakeDrive is an in-memory Drive v3 server covering files.list, media
// download and multipart create/update. API calls live under /drive/v3 and
// uploads under /upload/drive/v3.
type FakeDrive struct {
	Server *httptest.Server

	// PageSize splits list answers into pages when positive.
	PageSize int

	mu       sync.Mutex
	files    map[string]*FakeFile
	nextID   int
	requests []FakeRequest
	failures []int
}

// NewFakeDrive starts a FakeDrive that is closed when tb ends.
func NewFakeDrive(tb testing.TB) *FakeDrive {
	tb.Helper()

	fd := &FakeDrive{files: make(map[string]*FakeFile)}
	fd.Server = httptest.NewServer(http.HandlerFunc(fd.serve))
	tb.Cleanup(fd.Server.Close)

	return fd
}

// APIURL is the base to pass as the Drive API URL.
func (fd *FakeDrive) APIURL() string { return fd.Server.URL + "/drive/v3" }

// UploadURL is the base to pass as the Drive upload URL.
func (fd *FakeDrive) UploadURL() string { return fd.Server.URL + "/upload/drive/v3" }

// Put stores a file directly and returns its ID.
func (fd *FakeDrive) Put(name, parent string, content []byte) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.putLocked(name, parent, content)
}

// FailNext makes the next len(statuses) requests answer with those statuses.
func (fd *FakeDrive) FailNext(statuses ...int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.failures = append(fd.failures, statuses...)
}

// Files returns the stored files named name under parent.
func (fd *FakeDrive) Files(name, parent string) []FakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.matchLocked(func(f *FakeFile) bool { return f.Name == name && f.Parent == parent })
}

// All returns every stored file sorted by ID.
func (fd *FakeDrive) All() []FakeFile {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.matchLocked(func(*FakeFile) bool { return true })
}

// Requests returns the requests served so far.
func (fd *FakeDrive) Requests() []FakeRequest {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return append([]FakeRequest(nil), fd.requests...)
}

// Count returns how many served requests used method.
func (fd *FakeDrive) Count(method string) int {
	n := 0

	for _, r := range fd.Requests() {
		if r.Method == method {
			n++
		}
	}

	return n
}

func (fd *FakeDrive) putLocked(name, parent string, content []byte) string {
	fd.nextID++
	id := fmt.Sprintf("file-%04d", fd.nextID)
	fd.files[id] = &FakeFile{ID: id, Name: name, Parent: parent, Content: append([]byte(nil), content...)}

	return id
}

func (fd *FakeDrive) matchLocked(keep func(*FakeFile) bool) []FakeFile {
	var out []FakeFile

	for _, f := range fd.files {
		if keep(f) {
			out = append(out, *f)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (fd *FakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.requests = append(fd.requests, FakeRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})

	if r.Header.Get("Authorization") != "Bearer "+FakeToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	if len(fd.failures) > 0 {
		status := fd.failures[0]
		fd.failures = fd.failures[1:]
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})

		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/drive/v3/files":
		fd.serveList(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/drive/v3/files/"):
		fd.serveMedia(w, r, strings.TrimPrefix(r.URL.Path, "/drive/v3/files/"))
	case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
		fd.serveWrite(w, r, "")
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files/"):
		fd.serveWrite(w, r, strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
	}
}

func (fd *FakeDrive) serveList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	var keep func(*FakeFile) bool

	if m := nameQueryRE.FindStringSubmatch(q); m != nil {
		name, parent := unescapeQuery.Replace(m[1]), unescapeQuery.Replace(m[2])
		keep = func(f *FakeFile) bool { return f.Name == name && f.Parent == parent }
	} else if m := parentQueryRE.FindStringSubmatch(q); m != nil {
		parent := unescapeQuery.Replace(m[1])
		keep = func(f *FakeFile) bool { return f.Parent == parent }
	} else {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported query: " + q})
		return
	}

	matches := fd.matchLocked(keep)

	start := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		if _, err := fmt.Sscanf(tok, "page-%d", &start); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad page token"})
			return
		}
	}

	end := len(matches)
	next := ""

	if fd.PageSize > 0 && start+fd.PageSize < end {
		end = start + fd.PageSize
		next = fmt.Sprintf("page-%d", end)
	}

	files := make([]map[string]string, 0, end-start)
	for _, f := range matches[min(start, len(matches)):end] {
		files = append(files, map[string]string{"id": f.ID, "name": f.Name})
	}

	resp := map[string]any{"files": files}
	if next != "" {
		resp["nextPageToken"] = next
	}

	writeJSON(w, http.StatusOK, resp)
}

func (fd *FakeDrive) serveMedia(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := fd.files[id]
	if !ok || r.URL.Query().Get("alt") != "media" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(f.Content)
}

func (fd *FakeDrive) serveWrite(w http.ResponseWriter, r *http.Request, id string) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uploadType must be multipart"})
		return
	}

	meta, content, err := ParseMultipartRelated(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var md struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}

	if err := json.Unmarshal(meta, &md); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad metadata"})
		return
	}

	if id == "" {
		if len(md.Parents) != 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exactly one parent required"})
			return
		}

		id = fd.putLocked(md.Name, md.Parents[0], content)
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": md.Name})

		return
	}

	f, ok := fd.files[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if len(md.Parents) != 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parents is not writable on update"})
		return
	}

	if md.Name != "" {
		f.Name = md.Name
	}

	f.Content = content
	writeJSON(w, http.StatusOK, map[string]string{"id": f.ID, "name": f.Name})
}

// ParseMultipartRelated splits a multipart/related request into its JSON
// metadata part and its content part, checking the part content types.
func ParseMultipartRelated(r *http.Request) ([]byte, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("content type: %w", err)
	}

	if mediaType != "multipart/related" {
		return nil, nil, fmt.Errorf("content type %q is not multipart/related", mediaType)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	var parts [][]byte

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, nil, fmt.Errorf("reading part: %w", err)
		}

		want := "application/octet-stream"
		if len(parts) == 0 {
			want = "application/json; charset=UTF-8"
		}

		if got := p.Header.Get("Content-Type"); got != want {
			return nil, nil, fmt.Errorf("part %d content type %q, want %q", len(parts), got, want)
		}

		data, err := io.ReadAll(p)
		if err != nil {
			return nil, nil, fmt.Errorf("reading part: %w", err)
		}

		parts = append(parts, data)
	}

	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("got %d parts, want 2", len(parts))
	}

	return parts[0], parts[1], nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
