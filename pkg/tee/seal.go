package tee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/a3s-box/box/pkg/errs"
	"github.com/a3s-box/box/pkg/types"
)

// sealInfo is the HKDF "info" string binding a derived key to this
// package's sealed-storage use, so the same identity material can't
// be replayed to derive a key for some unrelated purpose.
const sealInfo = "a3s-box-sealed-storage"

// envelope is the wire format Seal produces and Unseal consumes: the
// policy the caller sealed under (not secret — only which identity
// material the key was bound to), a tag proving the unsealer's
// identity still satisfies that policy, and the ciphertext blob.
//
// Blob is the nonce prepended to the AES-GCM ciphertext, the exact
// convention cuemby-warren/pkg/security/secrets.go's
// EncryptSecret/DecryptSecret use.
type envelope struct {
	Policy    types.SealPolicy `json:"policy"`
	PolicyTag string           `json:"policyTag"`
	Blob      []byte           `json:"blob"`
}

// identityMaterial selects the bytes of r bound to key derivation
// under policy.
func identityMaterial(policy types.SealPolicy, r Report) ([]byte, error) {
	switch policy {
	case types.SealPolicyMeasurementOnly:
		return r.Measurement, nil
	case types.SealPolicyChipOnly:
		return r.ChipID, nil
	case types.SealPolicyMeasurementAndChip, "":
		return append(append([]byte{}, r.Measurement...), r.ChipID...), nil
	default:
		return nil, errors.New("tee: unknown seal policy " + string(policy))
	}
}

// policyTag binds policy and the caller's current identity into a
// value Unseal can compare without leaking the derived key itself.
func policyTag(policy types.SealPolicy, material []byte) string {
	sum := sha256.Sum256(append([]byte(policy), material...))
	return hex.EncodeToString(sum[:])
}

func deriveKey(material []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, material, nil, []byte(sealInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with a key derived (via HKDF-SHA256) from
// identity's material under policy, returning the serialized
// envelope. Matches spec.md §4.8: "Seal produces
// {nonce, tag, ciphertext, policy-tag}" — the GCM tag is appended to
// the ciphertext by cipher.AEAD.Seal, nonce is prepended to that, and
// policy-tag is carried alongside.
func Seal(policy types.SealPolicy, identity Report, plaintext []byte) ([]byte, error) {
	material, err := identityMaterial(policy, identity)
	if err != nil {
		return nil, errs.New(errs.KindUser, "tee.seal", "", err)
	}
	key, err := deriveKey(material)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.seal", "", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.seal", "", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.seal", "", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.New(errs.KindInternal, "tee.seal", "", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	env := envelope{
		Policy:    policy,
		PolicyTag: policyTag(policy, material),
		Blob:      ciphertext,
	}
	return json.Marshal(env)
}

// Unseal decodes an envelope produced by Seal, verifies that
// identity's material still satisfies the policy-tag it was sealed
// under, then decrypts. Returns a KindIntegrity error if the identity
// does not match — the caller's TEE identity has changed (different
// measurement or chip) since the secret was sealed.
func Unseal(identity Report, blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, errs.New(errs.KindUser, "tee.unseal", "", err)
	}

	material, err := identityMaterial(env.Policy, identity)
	if err != nil {
		return nil, errs.New(errs.KindUser, "tee.unseal", "", err)
	}
	if policyTag(env.Policy, material) != env.PolicyTag {
		return nil, errs.New(errs.KindIntegrity, "tee.unseal", "", errors.New("current TEE identity does not satisfy the seal's policy-tag"))
	}

	key, err := deriveKey(material)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.unseal", "", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.unseal", "", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "tee.unseal", "", err)
	}
	if len(env.Blob) < gcm.NonceSize() {
		return nil, errs.New(errs.KindIntegrity, "tee.unseal", "", errors.New("sealed blob shorter than nonce"))
	}
	nonce, ciphertext := env.Blob[:gcm.NonceSize()], env.Blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.KindIntegrity, "tee.unseal", "", err)
	}
	return plaintext, nil
}
