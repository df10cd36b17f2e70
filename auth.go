package filen

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// LoginOptions tune client construction at login.
type LoginOptions struct {
	// TwoFactorCode is the 6 digit TOTP; empty sends the placeholder
	// the gateway expects from accounts without 2FA.
	TwoFactorCode string
	// Transport overrides the transport configuration.
	Transport *client.Config
	Logger    *logrus.Logger
}

const noTwoFactorCode = "XXXXXX"

// Login authenticates against the gateway and composes a Client: it
// fetches the account's auth version and salt, derives the password and
// root key, logs in, ensures an RSA key pair exists server-side,
// unwraps the master keys or DEK, and resolves the base folder.
//
// When the account has 2FA enabled and no code was supplied the call
// fails with Err2FARequired; retry with a fresh code within ~30s.
func Login(ctx context.Context, email, password string, opts *LoginOptions) (*Client, error) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	cfg := client.DefaultConfig()
	if opts.Transport != nil {
		cfg = *opts.Transport
	}
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	api := client.New(cfg)

	info, err := client.Post[types.AuthInfoResponse](ctx, api, "auth/info", types.AuthInfoRequest{Email: email})
	if err != nil {
		return nil, translateAPIError(err)
	}
	if !info.AuthVersion.Valid() {
		return nil, fmt.Errorf("%w: auth version %d", client.ErrResponse, info.AuthVersion)
	}

	var (
		derivedPassword string
		masterKey       *crypto.MasterKey
		kek             *crypto.EncryptionKey
	)
	switch info.AuthVersion {
	case types.AuthVersionV1:
		masterKey, derivedPassword, err = crypto.DeriveMasterKeyAndPasswordV1(password)
	case types.AuthVersionV2:
		masterKey, derivedPassword, err = crypto.DeriveMasterKeyAndPasswordV2(password, info.Salt)
	case types.AuthVersionV3:
		kek, derivedPassword, err = crypto.DeriveKEKAndPasswordV3(password, info.Salt)
	}
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	code := opts.TwoFactorCode
	if code == "" {
		code = noTwoFactorCode
	}
	login, err := client.Post[types.LoginResponse](ctx, api, "login", types.LoginRequest{
		Email:         email,
		Password:      derivedPassword,
		TwoFactorCode: code,
		AuthVersion:   info.AuthVersion,
	})
	if err != nil {
		return nil, translateAPIError(err)
	}
	api.SetAPIKey(login.APIKey)

	c := newClient(api, opts.Logger)
	c.email = email
	c.authVersion = info.AuthVersion
	c.kek = kek
	switch info.AuthVersion {
	case types.AuthVersionV1, types.AuthVersionV2:
		c.fileEncryptionVersion = types.AuthVersionV2
		c.metaEncryptionVersion = types.AuthVersionV2
		if err := c.unwrapMasterKeys(masterKey, login.MasterKeys); err != nil {
			return nil, err
		}
	case types.AuthVersionV3:
		c.fileEncryptionVersion = types.AuthVersionV3
		c.metaEncryptionVersion = types.AuthVersionV3
		if err := c.unwrapDEK(login.DEK); err != nil {
			return nil, err
		}
	}

	if err := c.ensureKeyPair(ctx, login.PublicKey, login.PrivateKey); err != nil {
		return nil, err
	}

	baseFolder, err := client.GetAuthed[types.BaseFolderResponse](ctx, api, "user/baseFolder")
	if err != nil {
		return nil, translateAPIError(err)
	}
	c.rootUUID = baseFolder.UUID

	userInfo, err := client.GetAuthed[types.UserInfoResponse](ctx, api, "user/info")
	if err != nil {
		return nil, translateAPIError(err)
	}
	c.userID = userInfo.ID

	return c, nil
}

// unwrapMasterKeys decrypts the ordered key list blob and puts the key
// derived from the current password first.
func (c *Client) unwrapMasterKeys(derived *crypto.MasterKey, blob types.EncryptedString) error {
	if blob == "" {
		c.masterKeys = crypto.MasterKeys{derived}
		return nil
	}
	decrypted, err := derived.DecryptMeta(blob)
	if err != nil {
		return fmt.Errorf("decrypt master keys: %w", err)
	}
	keys, err := crypto.MasterKeysFromDecrypted(decrypted)
	if err != nil {
		return fmt.Errorf("parse master keys: %w", err)
	}
	ordered := crypto.MasterKeys{derived}
	for _, k := range keys {
		if k.String() != derived.String() {
			ordered = append(ordered, k)
		}
	}
	c.masterKeys = ordered
	return nil
}

// unwrapDEK opens the KEK-wrapped data encryption key of a v3 account.
func (c *Client) unwrapDEK(wrapped types.EncryptedString) error {
	if wrapped == "" {
		return fmt.Errorf("%w: login response carried no DEK", client.ErrResponse)
	}
	dekHex, err := c.kek.DecryptMeta(wrapped)
	if err != nil {
		return fmt.Errorf("decrypt DEK: %w", err)
	}
	dek, err := crypto.EncryptionKeyFromHex(dekHex)
	if err != nil {
		return fmt.Errorf("parse DEK: %w", err)
	}
	c.dek = dek
	return nil
}

// ensureKeyPair decrypts the stored RSA key pair, generating and
// uploading a fresh 2048 bit pair when the server holds none, then
// derives the deterministic HMAC name-hash key.
func (c *Client) ensureKeyPair(ctx context.Context, publicKey string, privateKey types.EncryptedString) error {
	if publicKey == "" || privateKey == "" {
		key, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		encryptedPrivate, err := crypto.EncryptPrivateKey(key, c.MetaCrypter())
		if err != nil {
			return err
		}
		encodedPublic, err := crypto.EncodePublicKey(&key.PublicKey)
		if err != nil {
			return err
		}
		err = client.PostAuthedEmpty(ctx, c.api, "user/keyPair/set", types.KeyPairSetRequest{
			PublicKey:  encodedPublic,
			PrivateKey: encryptedPrivate,
		})
		if err != nil {
			return translateAPIError(err)
		}
		c.privateKey = key
		c.publicKey = &key.PublicKey
	} else {
		key, err := crypto.DecryptPrivateKey(privateKey, c.MetaCrypter())
		if err != nil {
			return err
		}
		pub, err := crypto.DecodePublicKey(publicKey)
		if err != nil {
			return err
		}
		c.privateKey = key
		c.publicKey = pub
	}

	hmacKey, err := crypto.DeriveHMACKey(c.privateKey)
	if err != nil {
		return err
	}
	c.hmacKey = hmacKey
	return nil
}

// Register creates a new v2 account. The account still has to be
// verified by email before it can log in.
func Register(ctx context.Context, email, password string, opts *LoginOptions) error {
	if opts == nil {
		opts = &LoginOptions{}
	}
	cfg := client.DefaultConfig()
	if opts.Transport != nil {
		cfg = *opts.Transport
	}
	api := client.New(cfg)

	saltBytes := make([]byte, 128)
	if _, err := rand.Read(saltBytes); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(saltBytes)
	_, derivedPassword, err := crypto.DeriveMasterKeyAndPasswordV2(password, saltHex)
	if err != nil {
		return fmt.Errorf("derive password: %w", err)
	}

	_, err = client.Post[struct{}](ctx, api, "register", types.RegisterRequest{
		Email:       email,
		Password:    derivedPassword,
		Salt:        saltHex,
		AuthVersion: types.AuthVersionV2,
	})
	return translateAPIError(err)
}

// StartPasswordReset asks the gateway to email a reset token.
func StartPasswordReset(ctx context.Context, email string, opts *LoginOptions) error {
	cfg := client.DefaultConfig()
	if opts != nil && opts.Transport != nil {
		cfg = *opts.Transport
	}
	api := client.New(cfg)
	_, err := client.Post[struct{}](ctx, api, "user/password/forgot", types.PasswordForgotRequest{Email: email})
	return translateAPIError(err)
}

// CompletePasswordReset finishes a reset with the emailed token. A
// recovery key, when supplied, re-attaches the old master keys so data
// written before the reset stays readable; without one that history is
// lost. Returns a logged-in client for the new password.
func CompletePasswordReset(ctx context.Context, token, email, newPassword, recoveryKey string, opts *LoginOptions) (*Client, error) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	cfg := client.DefaultConfig()
	if opts.Transport != nil {
		cfg = *opts.Transport
	}
	api := client.New(cfg)

	info, err := client.Post[types.AuthInfoResponse](ctx, api, "auth/info", types.AuthInfoRequest{Email: email})
	if err != nil {
		return nil, translateAPIError(err)
	}

	saltBytes := make([]byte, 256)
	if _, err := rand.Read(saltBytes); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(saltBytes)
	mk, derivedPassword, err := crypto.DeriveMasterKeyAndPasswordV2(newPassword, saltHex)
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	keys := crypto.MasterKeys{mk}
	if recoveryKey != "" {
		recovered, err := MasterKeysFromRecoveryKey(recoveryKey, info.ID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, recovered...)
	}
	encryptedKeys, err := keys.EncryptMeta(keys.ToDecrypted())
	if err != nil {
		return nil, fmt.Errorf("encrypt master keys: %w", err)
	}

	_, err = client.Post[struct{}](ctx, api, "user/password/forgot/reset", types.PasswordForgotResetRequest{
		Token:           token,
		Password:        derivedPassword,
		AuthVersion:     types.AuthVersionV2,
		Salt:            saltHex,
		HasRecoveryKeys: recoveryKey != "",
		NewMasterKeys:   encryptedKeys,
	})
	if err != nil {
		return nil, translateAPIError(err)
	}

	return Login(ctx, email, newPassword, opts)
}

var recoveryKeyPattern = regexp.MustCompile(`_VALID_FILEN_MASTERKEY_([A-Fa-f0-9]{64})@(\d+)_VALID_FILEN_MASTERKEY_`)

// MasterKeysFromRecoveryKey parses the exportable recovery key format:
// base64 of '|' joined "_VALID_FILEN_MASTERKEY_<hex64>@<uid>_..."
// entries. Keys minted for a different user id are rejected.
func MasterKeysFromRecoveryKey(recoveryKey string, userID uint64) (crypto.MasterKeys, error) {
	decoded, err := base64.StdEncoding.DecodeString(recoveryKey)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrBadRecoveryKey)
	}
	matches := recoveryKeyPattern.FindAllStringSubmatch(string(decoded), -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no master keys found", ErrBadRecoveryKey)
	}
	keys := make(crypto.MasterKeys, 0, len(matches))
	for _, match := range matches {
		keyUserID, err := strconv.ParseUint(match[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad user id", ErrBadRecoveryKey)
		}
		if keyUserID != userID {
			return nil, fmt.Errorf("%w: key belongs to another account", ErrBadRecoveryKey)
		}
		key, err := crypto.NewMasterKey(match[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRecoveryKey, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ExportRecoveryKey renders the account master keys in the exportable
// recovery key format. Only meaningful for v1/v2 accounts.
func (c *Client) ExportRecoveryKey() (string, error) {
	if len(c.masterKeys) == 0 {
		return "", fmt.Errorf("%w: account holds no master keys", ErrInvalidType)
	}
	parts := make([]string, len(c.masterKeys))
	for i, key := range c.masterKeys {
		parts[i] = fmt.Sprintf("_VALID_FILEN_MASTERKEY_%s@%d_VALID_FILEN_MASTERKEY_", key.String(), c.userID)
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, "|"))), nil
}
