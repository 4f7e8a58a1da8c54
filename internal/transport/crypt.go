package transport

import (
	"crypto/sha1"

	"github.com/inconshreveable/log15"
	"golang.org/x/crypto/pbkdf2"

	kcp "github.com/xtaci/kcp-go/v5"
)

// kdfSalt is the fixed PBKDF2 salt boardhostd uses to derive a kcp session
// key from the operator-supplied --key secret, the same fixed-salt idiom
// kcptun uses for its own SALT constant.
const kdfSalt = "boardhost-transport"

// cryptMethod maps a cipher name to its kcp.BlockCrypt constructor and
// required key size (0 means the whole derived key is used).
type cryptMethod struct {
	keySize int
	build   func(key []byte) (kcp.BlockCrypt, error)
}

var cryptMethods = map[string]cryptMethod{
	"none":    {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewNoneBlockCrypt(key) }},
	"aes":     {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(key) }},
	"aes-128": {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(key) }},
	"salsa20": {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewSalsa20BlockCrypt(key) }},
	"xor":     {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewSimpleXORBlockCrypt(key) }},
}

// selectBlockCrypt derives a key from secret via PBKDF2 and builds the named
// cipher, falling back to aes on an unknown name or construction failure; it
// returns the effective cipher name actually in use so the caller can log
// it.
func selectBlockCrypt(log log15.Logger, method, secret string) (kcp.BlockCrypt, string) {
	pass := pbkdf2.Key([]byte(secret), []byte(kdfSalt), 4096, 32, sha1.New)
	m, ok := cryptMethods[method]
	if !ok {
		log.Warn("unknown crypt method, falling back to aes", "requested", method)
		block, _ := kcp.NewAESBlockCrypt(pass)
		return block, "aes"
	}
	key := pass
	if m.keySize > 0 && len(pass) >= m.keySize {
		key = pass[:m.keySize]
	}
	block, err := m.build(key)
	if err != nil {
		log.Warn("crypt construction failed, falling back to aes", "requested", method, "err", err)
		block, _ = kcp.NewAESBlockCrypt(pass)
		return block, "aes"
	}
	return block, method
}
