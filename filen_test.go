package filen

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// fakeServer is an in-memory gateway + storage node used by the
// operation and transfer tests. It stores envelopes and ciphertext
// verbatim; all crypto happens client-side, as in production.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	rootUUID      string
	dirs          map[string]*fakeDir
	files         map[string]*fakeFile
	chunks        map[string]map[int64][]byte
	uploadParents map[string]string
	locked        map[string]string // resource -> acquire uuid
	calls         map[string]int
}

type fakeDir struct {
	uuid       string
	parent     string
	meta       types.EncryptedString
	nameHashed string
	color      *types.DirColor
	favorited  bool
	trashed    bool
}

type fakeFile struct {
	uuid       string
	parent     string
	meta       types.EncryptedString
	nameHashed string
	size       int64
	chunks     int64
	version    types.FileEncryptionVersion
	favorited  bool
	trashed    bool
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		t:        t,
		rootUUID:      types.NewUUID(),
		dirs:          make(map[string]*fakeDir),
		files:         make(map[string]*fakeFile),
		chunks:        make(map[string]map[int64][]byte),
		uploadParents: make(map[string]string),
		locked:        make(map[string]string),
		calls:         make(map[string]int),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (f *fakeServer) callCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func writeEnvelope(w http.ResponseWriter, status bool, code string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	json.NewEncoder(w).Encode(types.Response{Status: status, Code: code, Message: code, Data: raw})
}

func readBody[T any](r *http.Request) T {
	var out T
	json.NewDecoder(r.Body).Decode(&out)
	return out
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// Egest: GET /{region}/{bucket}/{uuid}/{index}
	if r.Method == http.MethodGet && !strings.HasPrefix(path, "/v3/") {
		parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
		if len(parts) != 4 {
			http.NotFound(w, r)
			return
		}
		index, _ := strconv.ParseInt(parts[3], 10, 64)
		f.mu.Lock()
		chunk, ok := f.chunks[parts[2]][index]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Cl", strconv.Itoa(len(chunk)))
		w.Write(chunk)
		return
	}

	endpoint := strings.TrimPrefix(path, "/v3/")
	f.mu.Lock()
	f.calls[endpoint]++
	f.mu.Unlock()

	switch endpoint {
	case "dir/create":
		req := readBody[types.DirCreateRequest](r)
		f.mu.Lock()
		f.dirs[req.UUID] = &fakeDir{
			uuid:       req.UUID,
			parent:     req.Parent,
			meta:       req.Name,
			nameHashed: req.NameHashed,
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", types.DirCreateResponse{UUID: req.UUID})

	case "dir/content":
		req := readBody[types.DirContentRequest](r)
		f.mu.Lock()
		var dirs []types.DirEntry
		var files []types.FileEntry
		for _, d := range f.dirs {
			inTrash := req.UUID == types.ParentTrash && d.trashed
			inParent := string(req.UUID) == d.parent && !d.trashed
			if inTrash || inParent {
				dirs = append(dirs, types.DirEntry{
					UUID: d.uuid, Meta: d.meta, Parent: types.ParentUUID(d.parent),
					Color: d.color, Favorited: boolToInt(d.favorited),
				})
			}
		}
		for _, file := range f.files {
			inTrash := req.UUID == types.ParentTrash && file.trashed
			inParent := string(req.UUID) == file.parent && !file.trashed
			if inTrash || inParent {
				files = append(files, types.FileEntry{
					UUID: file.uuid, Meta: file.meta, Parent: types.ParentUUID(file.parent),
					Size: file.size, Chunks: file.chunks, Region: "de-1", Bucket: "bucket",
					Version: file.version, Favorited: boolToInt(file.favorited),
				})
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", types.DirContentResponse{Dirs: dirs, Files: files})

	case "dir":
		req := readBody[types.DirGetRequest](r)
		f.mu.Lock()
		d, ok := f.dirs[req.UUID]
		f.mu.Unlock()
		if !ok {
			writeEnvelope(w, false, "folder_not_found", nil)
			return
		}
		writeEnvelope(w, true, "", types.DirGetResponse{
			UUID: d.uuid, Meta: d.meta, Parent: types.ParentUUID(d.parent),
			Color: d.color, Favorited: boolToInt(d.favorited), Trash: d.trashed,
		})

	case "dir/exists":
		req := readBody[types.ExistsRequest](r)
		f.mu.Lock()
		resp := types.ExistsResponse{}
		for _, d := range f.dirs {
			if d.parent == req.Parent && d.nameHashed == req.NameHashed && !d.trashed {
				resp = types.ExistsResponse{Exists: true, UUID: d.uuid}
				break
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", resp)

	case "file/exists":
		req := readBody[types.ExistsRequest](r)
		f.mu.Lock()
		resp := types.ExistsResponse{}
		for _, file := range f.files {
			if file.parent == req.Parent && file.nameHashed == req.NameHashed && !file.trashed {
				resp = types.ExistsResponse{Exists: true, UUID: file.uuid}
				break
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", resp)

	case "dir/move":
		req := readBody[types.MoveRequest](r)
		f.mu.Lock()
		if d, ok := f.dirs[req.UUID]; ok {
			d.parent = req.To
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "file/move":
		req := readBody[types.MoveRequest](r)
		f.mu.Lock()
		if file, ok := f.files[req.UUID]; ok {
			file.parent = req.To
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "dir/trash":
		req := readBody[types.UUIDRequest](r)
		f.mu.Lock()
		d, ok := f.dirs[req.UUID]
		if ok {
			d.trashed = true
		}
		f.mu.Unlock()
		if !ok {
			writeEnvelope(w, false, "folder_not_found", nil)
			return
		}
		writeEnvelope(w, true, "", nil)

	case "file/trash":
		req := readBody[types.UUIDRequest](r)
		f.mu.Lock()
		file, ok := f.files[req.UUID]
		if ok {
			file.trashed = true
		}
		f.mu.Unlock()
		if !ok {
			writeEnvelope(w, false, "file_not_found", nil)
			return
		}
		writeEnvelope(w, true, "", nil)

	case "dir/restore":
		req := readBody[types.UUIDRequest](r)
		f.mu.Lock()
		if d, ok := f.dirs[req.UUID]; ok {
			d.trashed = false
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "dir/metadata":
		req := readBody[types.DirMetadataRequest](r)
		f.mu.Lock()
		if d, ok := f.dirs[req.UUID]; ok {
			d.meta = req.Name
			d.nameHashed = req.NameHashed
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "file/metadata":
		req := readBody[types.FileMetadataRequest](r)
		f.mu.Lock()
		if file, ok := f.files[req.UUID]; ok {
			file.meta = req.Metadata
			file.nameHashed = req.NameHashed
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "dir/delete/permanent":
		req := readBody[types.UUIDRequest](r)
		f.mu.Lock()
		delete(f.dirs, req.UUID)
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "file/delete/permanent":
		req := readBody[types.UUIDRequest](r)
		f.mu.Lock()
		delete(f.files, req.UUID)
		delete(f.chunks, req.UUID)
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "trash/empty":
		f.mu.Lock()
		for uuid, d := range f.dirs {
			if d.trashed {
				delete(f.dirs, uuid)
			}
		}
		for uuid, file := range f.files {
			if file.trashed {
				delete(f.files, uuid)
				delete(f.chunks, uuid)
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "item/favorite":
		req := readBody[types.ItemFavoriteRequest](r)
		f.mu.Lock()
		if d, ok := f.dirs[req.UUID]; ok {
			d.favorited = req.Value != 0
		}
		if file, ok := f.files[req.UUID]; ok {
			file.favorited = req.Value != 0
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "dir/color":
		req := readBody[types.DirColorRequest](r)
		f.mu.Lock()
		if d, ok := f.dirs[req.UUID]; ok {
			color := req.Color
			d.color = &color
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", nil)

	case "upload/chunk/buffer":
		query := r.URL.Query()
		uuid := query.Get("uuid")
		index, _ := strconv.ParseInt(query.Get("index"), 10, 64)
		body := make([]byte, 0)
		buf := make([]byte, 32<<10)
		for {
			n, err := r.Body.Read(buf)
			body = append(body, buf[:n]...)
			if err != nil {
				break
			}
		}
		f.mu.Lock()
		if f.chunks[uuid] == nil {
			f.chunks[uuid] = make(map[int64][]byte)
		}
		f.chunks[uuid][index] = body
		f.uploadParents[uuid] = query.Get("parent")
		f.mu.Unlock()
		writeEnvelope(w, true, "", types.UploadChunkResponse{Region: "de-1", Bucket: "bucket"})

	case "upload/done":
		req := readBody[types.UploadDoneRequest](r)
		size, _ := strconv.ParseInt(req.Size, 10, 64)
		f.mu.Lock()
		f.files[req.UUID] = &fakeFile{
			uuid:       req.UUID,
			parent:     f.uploadParents[req.UUID],
			meta:       req.Metadata,
			nameHashed: req.NameHashed,
			size:       size,
			chunks:     req.Chunks,
			version:    req.Version,
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", types.UploadDoneResponse{Chunks: req.Chunks, Size: size})

	case "file":
		req := readBody[types.FileGetRequest](r)
		f.mu.Lock()
		file, ok := f.files[req.UUID]
		f.mu.Unlock()
		if !ok {
			writeEnvelope(w, false, "file_not_found", nil)
			return
		}
		writeEnvelope(w, true, "", types.FileGetResponse{
			UUID: file.uuid, Meta: file.meta, Parent: types.ParentUUID(file.parent),
			Size: file.size, Chunks: file.chunks, Region: "de-1", Bucket: "bucket",
			Version: file.version, Favorited: boolToInt(file.favorited), Trash: file.trashed,
		})

	case "dir/download":
		raw, _ := io.ReadAll(r.Body)
		var req types.DirDownloadRequest
		if err := msgpack.Unmarshal(raw, &req); err != nil {
			writeEnvelope(w, false, "bad_request", nil)
			return
		}
		f.mu.Lock()
		var dirs []types.DirDownloadDir
		var files []types.FileEntry
		frontier := []string{req.UUID}
		seen := map[string]bool{req.UUID: true}
		for len(frontier) > 0 {
			current := frontier[0]
			frontier = frontier[1:]
			for _, d := range f.dirs {
				if d.parent != current || d.trashed || seen[d.uuid] {
					continue
				}
				seen[d.uuid] = true
				parent := types.ParentUUID(d.parent)
				dirs = append(dirs, types.DirDownloadDir{
					UUID: d.uuid, Meta: d.meta, Parent: &parent,
					Color: d.color, Favorited: boolToInt(d.favorited),
				})
				frontier = append(frontier, d.uuid)
			}
			for _, file := range f.files {
				if file.parent != current || file.trashed {
					continue
				}
				files = append(files, types.FileEntry{
					UUID: file.uuid, Meta: file.meta, Parent: types.ParentUUID(file.parent),
					Size: file.size, Chunks: file.chunks, Region: "de-1", Bucket: "bucket",
					Version: file.version, Favorited: boolToInt(file.favorited),
				})
			}
		}
		f.mu.Unlock()
		data, err := msgpack.Marshal(types.DirDownloadResponse{Dirs: dirs, Files: files})
		if err != nil {
			f.t.Fatalf("marshal dir/download data: %v", err)
		}
		out, err := msgpack.Marshal(struct {
			Status  bool               `msgpack:"status"`
			Code    string             `msgpack:"code"`
			Message string             `msgpack:"message"`
			Data    msgpack.RawMessage `msgpack:"data"`
		}{Status: true, Data: data})
		if err != nil {
			f.t.Fatalf("marshal dir/download envelope: %v", err)
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(out)

	case "user/lock":
		req := readBody[types.LockRequest](r)
		f.mu.Lock()
		resp := types.LockResponse{Resource: req.Resource}
		holder, held := f.locked[req.Resource]
		switch req.Type {
		case "acquire":
			if !held || holder == req.UUID {
				f.locked[req.Resource] = req.UUID
				resp.Acquired = true
			}
		case "refresh":
			resp.Refreshed = held && holder == req.UUID
		case "release":
			if held && holder == req.UUID {
				delete(f.locked, req.Resource)
				resp.Released = true
			}
		}
		f.mu.Unlock()
		writeEnvelope(w, true, "", resp)

	default:
		f.t.Logf("fake server: unhandled endpoint %s", endpoint)
		writeEnvelope(w, false, "not_found", nil)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newTestEnv wires a logged-in v2 client against a fake server.
func newTestEnv(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fs := newFakeServer(t)
	api := client.New(client.Config{
		GatewayURL: fs.srv.URL,
		IngestURL:  fs.srv.URL,
		EgestURL:   fs.srv.URL,
		Attempts:   2,
		MaxBackoff: time.Millisecond,
	})
	api.SetAPIKey("test-api-key")

	mk, err := crypto.NewMasterKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	c := newClient(api, nil)
	c.email = "test@example.com"
	c.userID = 1
	c.rootUUID = fs.rootUUID
	c.authVersion = types.AuthVersionV2
	c.fileEncryptionVersion = types.AuthVersionV2
	c.metaEncryptionVersion = types.AuthVersionV2
	c.masterKeys = crypto.MasterKeys{mk}
	return c, fs
}

// injectDir places a directory with a raw metadata envelope directly
// into the fake server, bypassing the client.
func (f *fakeServer) injectDir(uuid, parent string, meta types.EncryptedString) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[uuid] = &fakeDir{uuid: uuid, parent: parent, meta: meta, nameHashed: fmt.Sprintf("hash-%s", uuid)}
}

// setFileParent overrides the parent that the fake upload/done handler
// recorded from the chunk query string.
func (f *fakeServer) setFileParent(uuid, parent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[uuid]; ok {
		file.parent = parent
	}
}
