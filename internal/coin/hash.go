package coin

import "golang.org/x/crypto/sha3"

// doubleSHA3_256 mirrors the teacher's crypto.DevStdCryptoProvider.SHA3_256,
// applied twice. The core never hashes anything consensus-security-critical
// itself (coin profiles own that); this just gives the bundled test profile
// a real digest instead of a hand-rolled checksum.
func doubleSHA3_256(b []byte) [32]byte {
	first := sha3.Sum256(b)
	return sha3.Sum256(first[:])
}
