package filen

import (
	"crypto/rsa"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// MaxOpenFiles bounds concurrently open local files during transfers.
const MaxOpenFiles = 64

// Client is a logged-in session: the account's key hierarchy plus the
// authorized transport. It is safe to share across goroutines; mutable
// state (API key, rate limiter, advisory locks) is guarded internally.
type Client struct {
	email    string
	userID   uint64
	rootUUID string

	authVersion           types.AuthVersion
	fileEncryptionVersion types.FileEncryptionVersion
	metaEncryptionVersion types.MetaEncryptionVersion

	masterKeys crypto.MasterKeys      // v1/v2 root keys, newest first
	kek        *crypto.EncryptionKey  // v3 key encryption key
	dek        *crypto.EncryptionKey  // v3 data encryption key

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	hmacKey    crypto.HMACKey

	api    *client.Client
	logger *logrus.Logger

	// fileSem bounds concurrently open local files.
	fileSem *semaphore.Weighted

	// locks shares one server-side advisory lock per resource name
	// among all callers in this process.
	locksMu sync.Mutex
	locks   map[string]*sharedLock

	// parents caches directory parent relationships from every
	// response the client has seen, so move-cycle checks are pure
	// in-memory ancestry walks.
	parentsMu sync.RWMutex
	parents   map[string]string
}

func newClient(api *client.Client, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Client{
		api:     api,
		logger:  logger,
		fileSem: semaphore.NewWeighted(MaxOpenFiles),
		locks:   make(map[string]*sharedLock),
		parents: make(map[string]string),
	}
}

// rememberDirParent records a directory's parent as revealed by a
// server response.
func (c *Client) rememberDirParent(uuid, parent string) {
	c.parentsMu.Lock()
	c.parents[uuid] = parent
	c.parentsMu.Unlock()
}

// forgetDirParent drops a cached relationship that is no longer known.
func (c *Client) forgetDirParent(uuid string) {
	c.parentsMu.Lock()
	delete(c.parents, uuid)
	c.parentsMu.Unlock()
}

// dirParent looks a cached parent up.
func (c *Client) dirParent(uuid string) (string, bool) {
	c.parentsMu.RLock()
	parent, ok := c.parents[uuid]
	c.parentsMu.RUnlock()
	return parent, ok
}

// Email returns the account email. Two clients are the same session
// exactly when their emails match.
func (c *Client) Email() string { return c.email }

// UserID returns the numeric account id.
func (c *Client) UserID() uint64 { return c.userID }

// AuthVersion returns the account ciphersuite.
func (c *Client) AuthVersion() types.AuthVersion { return c.authVersion }

// Root returns the account's base folder.
func (c *Client) Root() RootDirectory { return RootDirectory{UUID: c.rootUUID} }

// API exposes the underlying transport.
func (c *Client) API() *client.Client { return c.api }

// PublicKey returns the account RSA public key.
func (c *Client) PublicKey() *rsa.PublicKey { return c.publicKey }

// SetRateLimit reconfigures the transport's per-second request ceiling
// at runtime; perSecond <= 0 disables limiting.
func (c *Client) SetRateLimit(perSecond int) { c.api.SetRateLimit(perSecond) }

// MetaCrypter returns the account meta key: the master key list for
// v1/v2, the data encryption key for v3.
func (c *Client) MetaCrypter() crypto.MetaCrypter {
	if c.metaEncryptionVersion == types.AuthVersionV3 {
		return c.dek
	}
	return c.masterKeys
}

// HashName computes the version-appropriate name hash of a lowercased,
// trimmed name.
func (c *Client) HashName(name string) string {
	if c.authVersion == types.AuthVersionV3 {
		return crypto.HashNameV3(c.hmacKey, name)
	}
	return crypto.HashNameV2(name)
}

// MakeFileKey mints a fresh content key matching the session's file
// encryption version.
func (c *Client) MakeFileKey() (*crypto.FileKey, error) {
	return crypto.NewFileKey(c.fileEncryptionVersion)
}

// encryptMeta seals a metadata string under the account meta key.
func (c *Client) encryptMeta(plaintext string) (types.EncryptedString, error) {
	enc, err := c.MetaCrypter().EncryptMeta(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt metadata: %w", err)
	}
	return enc, nil
}
