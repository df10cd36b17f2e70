package types

// Request and response bodies for the v3 gateway endpoints used by the
// storage engine. Field names follow the gateway's camelCase JSON.

// auth/info

type AuthInfoRequest struct {
	Email string `json:"email"`
}

type AuthInfoResponse struct {
	Email       string      `json:"email"`
	AuthVersion AuthVersion `json:"authVersion"`
	Salt        string      `json:"salt"`
	ID          uint64      `json:"id"`
}

// login

type LoginRequest struct {
	Email         string      `json:"email"`
	Password      string      `json:"password"`
	TwoFactorCode string      `json:"twoFactorCode"`
	AuthVersion   AuthVersion `json:"authVersion"`
}

type LoginResponse struct {
	APIKey     string          `json:"apiKey"`
	MasterKeys EncryptedString `json:"masterKeys"`
	PublicKey  string          `json:"publicKey"`
	PrivateKey EncryptedString `json:"privateKey"`
	DEK        EncryptedString `json:"dek"`
}

// register

type RegisterRequest struct {
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	Salt        string      `json:"salt"`
	AuthVersion AuthVersion `json:"authVersion"`
	RefID       string      `json:"refId,omitempty"`
	AffID       string      `json:"affId,omitempty"`
}

// user/password/forgot and user/password/forgot/reset

type PasswordForgotRequest struct {
	Email string `json:"email"`
}

type PasswordForgotResetRequest struct {
	Token           string          `json:"token"`
	Password        string          `json:"password"`
	AuthVersion     AuthVersion     `json:"authVersion"`
	Salt            string          `json:"salt"`
	HasRecoveryKeys bool            `json:"hasRecoveryKeys"`
	NewMasterKeys   EncryptedString `json:"newMasterKeys"`
}

// user/keyPair/set and user/keyPair/update

type KeyPairSetRequest struct {
	PublicKey  string          `json:"publicKey"`
	PrivateKey EncryptedString `json:"privateKey"`
}

// user/masterKeys

type MasterKeysRequest struct {
	MasterKeys EncryptedString `json:"masterKeys"`
}

type MasterKeysResponse struct {
	Keys EncryptedString `json:"keys"`
}

// user/baseFolder

type BaseFolderResponse struct {
	UUID string `json:"uuid"`
}

// user/info

type UserInfoResponse struct {
	ID             uint64 `json:"id"`
	Email          string `json:"email"`
	IsPremium      int    `json:"isPremium"`
	MaxStorage     int64  `json:"maxStorage"`
	StorageUsed    int64  `json:"storageUsed"`
	BaseFolderUUID string `json:"baseFolderUUID"`
}

// dir/create

type DirCreateRequest struct {
	UUID       string          `json:"uuid"`
	Name       EncryptedString `json:"name"`
	NameHashed string          `json:"nameHashed"`
	Parent     string          `json:"parent"`
}

type DirCreateResponse struct {
	UUID string `json:"uuid"`
}

// dir/exists and file/exists

type ExistsRequest struct {
	NameHashed string `json:"nameHashed"`
	Parent     string `json:"parent"`
}

type ExistsResponse struct {
	Exists bool   `json:"exists"`
	UUID   string `json:"uuid"`
}

// dir/content

type DirContentRequest struct {
	UUID ParentUUID `json:"uuid"`
}

type DirContentResponse struct {
	Dirs  []DirEntry  `json:"folders"`
	Files []FileEntry `json:"uploads"`
}

// DirEntry is a directory child as returned by listing endpoints. Meta
// is the encrypted metadata envelope; Color and Favorited are plaintext.
type DirEntry struct {
	UUID      string          `json:"uuid" msgpack:"uuid"`
	Meta      EncryptedString `json:"name" msgpack:"name"`
	Parent    ParentUUID      `json:"parent" msgpack:"parent"`
	Color     *DirColor       `json:"color" msgpack:"color"`
	Favorited int             `json:"favorited" msgpack:"favorited"`
	Timestamp int64           `json:"timestamp" msgpack:"timestamp"`
}

// FileEntry is a file child as returned by listing endpoints. Size,
// Chunks, Region and Bucket are plaintext routing data.
type FileEntry struct {
	UUID      string                `json:"uuid" msgpack:"uuid"`
	Meta      EncryptedString       `json:"metadata" msgpack:"metadata"`
	Parent    ParentUUID            `json:"parent" msgpack:"parent"`
	Size      int64                 `json:"size" msgpack:"size"`
	Chunks    int64                 `json:"chunks" msgpack:"chunks"`
	Region    string                `json:"region" msgpack:"region"`
	Bucket    string                `json:"bucket" msgpack:"bucket"`
	Version   FileEncryptionVersion `json:"version" msgpack:"version"`
	Favorited int                   `json:"favorited" msgpack:"favorited"`
	Timestamp int64                 `json:"timestamp" msgpack:"timestamp"`
}

// dir (single object fetch)

type DirGetRequest struct {
	UUID string `json:"uuid"`
}

type DirGetResponse struct {
	UUID      string          `json:"uuid"`
	Meta      EncryptedString `json:"nameEncrypted"`
	Parent    ParentUUID      `json:"parent"`
	Color     *DirColor       `json:"color"`
	Favorited int             `json:"favorited"`
	Trash     bool            `json:"trash"`
}

// file (single object fetch)

type FileGetRequest struct {
	UUID string `json:"uuid"`
}

type FileGetResponse struct {
	UUID      string                `json:"uuid"`
	Meta      EncryptedString       `json:"metadata"`
	Parent    ParentUUID            `json:"parent"`
	Size      int64                 `json:"size"`
	Chunks    int64                 `json:"chunks"`
	Region    string                `json:"region"`
	Bucket    string                `json:"bucket"`
	Version   FileEncryptionVersion `json:"version"`
	Favorited int                   `json:"favorited"`
	Trash     bool                  `json:"trash"`
}

// dir/move and file/move

type MoveRequest struct {
	UUID string `json:"uuid"`
	To   string `json:"to"`
}

// dir/metadata and file/metadata

type DirMetadataRequest struct {
	UUID       string          `json:"uuid"`
	Name       EncryptedString `json:"name"`
	NameHashed string          `json:"nameHashed"`
}

type FileMetadataRequest struct {
	UUID       string          `json:"uuid"`
	Name       EncryptedString `json:"name"`
	NameHashed string          `json:"nameHashed"`
	Metadata   EncryptedString `json:"metadata"`
}

// dir/trash, file/trash, dir/restore, file/restore,
// dir/delete/permanent, file/delete/permanent

type UUIDRequest struct {
	UUID string `json:"uuid"`
}

// dir/color

type DirColorRequest struct {
	UUID  string   `json:"uuid"`
	Color DirColor `json:"color"`
}

// item/favorite

type ItemFavoriteRequest struct {
	UUID  string     `json:"uuid"`
	Type  ObjectType `json:"type"`
	Value int        `json:"value"`
}

// dir/size

type DirSizeRequest struct {
	UUID    string     `json:"uuid"`
	Sharer  int        `json:"sharerId,omitempty"`
	Trash   int        `json:"trash,omitempty"`
	Receive ParentUUID `json:"receiverId,omitempty"`
}

type DirSizeResponse struct {
	Size  int64 `json:"size"`
	Files int64 `json:"files"`
	Dirs  int64 `json:"folders"`
}

// dir/download — the full-subtree listing used by recursive transfers.
// Flagged "large": transported as msgpack.

type DirDownloadRequest struct {
	UUID           string `json:"uuid" msgpack:"uuid"`
	SkipCache      bool   `json:"skipCache" msgpack:"skipCache"`
	LinkUUID       string `json:"linkUUID,omitempty" msgpack:"linkUUID,omitempty"`
	LinkHasPassword bool  `json:"linkHasPassword,omitempty" msgpack:"linkHasPassword,omitempty"`
}

type DirDownloadDir struct {
	UUID      string          `json:"uuid" msgpack:"uuid"`
	Meta      EncryptedString `json:"name" msgpack:"name"`
	Parent    *ParentUUID     `json:"parent" msgpack:"parent"`
	Color     *DirColor       `json:"color" msgpack:"color"`
	Favorited int             `json:"favorited" msgpack:"favorited"`
	Timestamp int64           `json:"timestamp" msgpack:"timestamp"`
}

type DirDownloadResponse struct {
	Dirs  []DirDownloadDir `json:"folders" msgpack:"folders"`
	Files []FileEntry      `json:"files" msgpack:"files"`
}

// upload/done

type UploadDoneRequest struct {
	UUID       string                `json:"uuid"`
	Name       EncryptedString       `json:"name"`
	NameHashed string                `json:"nameHashed"`
	Size       string                `json:"size"`
	Chunks     int64                 `json:"chunks"`
	MimeType   EncryptedString       `json:"mime"`
	Metadata   EncryptedString       `json:"metadata"`
	Rm         string                `json:"rm"`
	Version    FileEncryptionVersion `json:"version"`
	UploadKey  string                `json:"uploadKey"`
}

type UploadDoneResponse struct {
	Chunks int64 `json:"chunks"`
	Size   int64 `json:"size"`
}

// upload/chunk/buffer (query-string request, octet-stream body)

type UploadChunkResponse struct {
	Region string `json:"region"`
	Bucket string `json:"bucket"`
}

// trash/empty has no body.

// search/add

type SearchAddItem struct {
	UUID string     `json:"uuid"`
	Hash string     `json:"hash"`
	Type ObjectType `json:"type"`
}

type SearchAddRequest struct {
	Items []SearchAddItem `json:"items"`
}

type SearchAddResponse struct {
	Added int64 `json:"added"`
}

// search/find

type SearchFindRequest struct {
	Hashes []string `json:"hashes"`
}

type SearchFindDir struct {
	UUID         string            `json:"uuid"`
	Meta         EncryptedString   `json:"metadata"`
	Parent       ParentUUID        `json:"parent"`
	Color        *DirColor         `json:"color"`
	Favorited    int               `json:"favorited"`
	Timestamp    int64             `json:"timestamp"`
	MetadataPath []EncryptedString `json:"metadataPath"`
}

type SearchFindFile struct {
	UUID         string                `json:"uuid"`
	Meta         EncryptedString       `json:"metadata"`
	Parent       ParentUUID            `json:"parent"`
	Size         int64                 `json:"size"`
	Chunks       int64                 `json:"chunks"`
	Region       string                `json:"region"`
	Bucket       string                `json:"bucket"`
	Version      FileEncryptionVersion `json:"version"`
	Favorited    int                   `json:"favorited"`
	Timestamp    int64                 `json:"timestamp"`
	MetadataPath []EncryptedString     `json:"metadataPath"`
}

type SearchFindResponse struct {
	Dirs  []SearchFindDir  `json:"folders"`
	Files []SearchFindFile `json:"files"`
}

// user/lock

type LockRequest struct {
	UUID     string `json:"uuid"`
	Resource string `json:"resource"`
	Type     string `json:"type"` // "acquire", "refresh", "release", "status"
}

type LockResponse struct {
	Acquired bool   `json:"acquired"`
	Released bool   `json:"released"`
	Refreshed bool  `json:"refreshed"`
	Resource string `json:"resource"`
}
