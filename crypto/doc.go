// Package crypto implements the cryptographic primitives used by the call
// signaling channel.
//
// Every signaling message is sealed with NaCl crypto_box (Curve25519,
// XSalsa20, Poly1305) from golang.org/x/crypto. A sealed message carries the
// sender's public key in the clear followed by a random nonce and the box.
// Opening the box with the claimed sender key proves the sender holds the
// matching secret key, so [Open] can hand the authenticated sender key back to
// the caller. Deciding whether that key is the expected peer is left to the
// caller.
//
// Example:
//
//	alice, _ := crypto.GenerateKeyPair()
//	bob, _ := crypto.GenerateKeyPair()
//
//	sealed, err := crypto.Seal([]byte(`{"action":"ping"}`), bob.Public, alice)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	plain, sender, err := crypto.Open(sealed, bob)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(sender == alice.Public, string(plain))
package crypto
