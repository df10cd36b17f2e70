package filen

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// SerializedClient is the persisted session state. The format is an
// external interface: callers store it (encrypted at rest, one hopes)
// and restore a client without another login round trip.
type SerializedClient struct {
	Email               string            `json:"email"`
	UserID              uint64            `json:"userId"`
	RootUUID            string            `json:"rootUuid"`
	APIKey              string            `json:"apiKey"`
	AuthVersion         types.AuthVersion `json:"authVersion"`
	AuthInfo            string            `json:"authInfo"`
	PublicKey           string            `json:"publicKey"`
	PrivateKey          string            `json:"privateKey"`
	MaxParallelRequests int64             `json:"maxParallelRequests,omitempty"`
}

// Serialize captures the session for later restoration.
func (c *Client) Serialize() (*SerializedClient, error) {
	publicKey, err := crypto.EncodePublicKey(c.publicKey)
	if err != nil {
		return nil, err
	}
	privateDER, err := x509.MarshalPKCS8PrivateKey(c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	var authInfo string
	switch c.authVersion {
	case types.AuthVersionV1, types.AuthVersionV2:
		authInfo = c.masterKeys.ToDecrypted()
	case types.AuthVersionV3:
		authInfo = c.kek.Hex() + ":" + c.dek.Hex()
	}

	return &SerializedClient{
		Email:               c.email,
		UserID:              c.userID,
		RootUUID:            c.rootUUID,
		APIKey:              c.api.APIKey(),
		AuthVersion:         c.authVersion,
		AuthInfo:            authInfo,
		PublicKey:           publicKey,
		PrivateKey:          base64.StdEncoding.EncodeToString(privateDER),
		MaxParallelRequests: c.api.MaxParallelRequests(),
	}, nil
}

// MarshalJSON renders the persisted form directly.
func (c *Client) MarshalJSON() ([]byte, error) {
	s, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// FromSerialized restores a client from persisted state without a
// network round trip.
func FromSerialized(s *SerializedClient, opts *LoginOptions) (*Client, error) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	cfg := client.DefaultConfig()
	if opts.Transport != nil {
		cfg = *opts.Transport
	}
	if s.MaxParallelRequests > 0 && opts.Transport == nil {
		cfg.MaxParallelRequests = s.MaxParallelRequests
	}
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	api := client.New(cfg)
	api.SetAPIKey(s.APIKey)

	c := newClient(api, opts.Logger)
	c.email = s.Email
	c.userID = s.UserID
	c.rootUUID = s.RootUUID
	c.authVersion = s.AuthVersion

	switch s.AuthVersion {
	case types.AuthVersionV1, types.AuthVersionV2:
		c.fileEncryptionVersion = types.AuthVersionV2
		c.metaEncryptionVersion = types.AuthVersionV2
		keys, err := crypto.MasterKeysFromDecrypted(s.AuthInfo)
		if err != nil {
			return nil, fmt.Errorf("restore master keys: %w", err)
		}
		c.masterKeys = keys
	case types.AuthVersionV3:
		c.fileEncryptionVersion = types.AuthVersionV3
		c.metaEncryptionVersion = types.AuthVersionV3
		kekHex, dekHex, found := strings.Cut(s.AuthInfo, ":")
		if !found {
			return nil, fmt.Errorf("%w: v3 auth info", client.ErrResponse)
		}
		kek, err := crypto.EncryptionKeyFromHex(kekHex)
		if err != nil {
			return nil, fmt.Errorf("restore KEK: %w", err)
		}
		dek, err := crypto.EncryptionKeyFromHex(dekHex)
		if err != nil {
			return nil, fmt.Errorf("restore DEK: %w", err)
		}
		c.kek, c.dek = kek, dek
	default:
		return nil, fmt.Errorf("%w: auth version %d", client.ErrResponse, s.AuthVersion)
	}

	privateDER, err := base64.StdEncoding.DecodeString(s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(privateDER)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	c.privateKey = rsaKey
	c.publicKey = &rsaKey.PublicKey
	hmacKey, err := crypto.DeriveHMACKey(rsaKey)
	if err != nil {
		return nil, err
	}
	c.hmacKey = hmacKey

	return c, nil
}
