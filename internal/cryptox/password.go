// Package cryptox hashes and verifies user passwords.
//
// New digests are argon2id in the PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt b64>$<key b64>
//
// bcrypt digests ("$2a$", "$2b$", "$2y$") from older deployments still
// verify and are reported by NeedsRehash.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params controls the cost of new digests.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Upper bounds on digest parameters. A stored digest is data, so its
// parameters are checked before they size an argon2 run.
const (
	MaxArgon2Memory      = 1 << 20 // KiB
	MaxArgon2Iterations  = 64
	MaxArgon2Parallelism = 64
	maxSaltLength        = 64
	maxKeyLength         = 128
)

var errMalformedDigest = errors.New("malformed password digest")

// WithinLimits reports whether p stays under the parameter ceilings.
func (p Argon2Params) WithinLimits() bool {
	return p.Memory <= MaxArgon2Memory &&
		p.Iterations <= MaxArgon2Iterations &&
		p.Parallelism <= MaxArgon2Parallelism &&
		p.SaltLength <= maxSaltLength &&
		p.KeyLength <= maxKeyLength
}

// Hasher is safe for concurrent use.
type Hasher struct {
	params Argon2Params

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(p Argon2Params) *Hasher {
	return &Hasher{params: p}
}

// Hash returns a salted argon2id digest of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether plain matches digest. Malformed or unknown digests
// never match.
func (h *Hasher) Verify(plain, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	}

	d, err := decodeArgon2(digest)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), d.salt, d.params.Iterations, d.params.Memory, d.params.Parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash,
// either because it is legacy bcrypt or because it was made with weaker
// parameters than the current ones.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, err := decodeArgon2(digest)
	if err != nil {
		return true
	}
	p := d.params
	return p.Memory < h.params.Memory ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism ||
		uint32(len(d.key)) < h.params.KeyLength
}

// DummyDigest is a valid digest of a random password. Verifying against it
// costs the same as a real check, so unknown accounts take as long as known ones.
func (h *Hasher) DummyDigest() string {
	h.dummyOnce.Do(func() {
		seed := make([]byte, 16)
		_, _ = rand.Read(seed)
		h.dummy, _ = h.Hash(base64.RawStdEncoding.EncodeToString(seed))
	})
	return h.dummy
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

type argon2Digest struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func decodeArgon2(digest string) (*argon2Digest, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, errMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errMalformedDigest
	}

	var d argon2Digest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Iterations, &d.params.Parallelism); err != nil {
		return nil, errMalformedDigest
	}
	if d.params.Iterations == 0 || d.params.Parallelism == 0 || d.params.Memory == 0 {
		return nil, errMalformedDigest
	}

	var err error
	b64 := base64.RawStdEncoding
	if d.salt, err = b64.DecodeString(parts[4]); err != nil || len(d.salt) == 0 {
		return nil, errMalformedDigest
	}
	if d.key, err = b64.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return nil, errMalformedDigest
	}
	d.params.SaltLength = uint32(len(d.salt))
	d.params.KeyLength = uint32(len(d.key))
	if !d.params.WithinLimits() {
		return nil, errMalformedDigest
	}

	return &d, nil
}
