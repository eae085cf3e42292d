package launcher

import "crypto/ed25519"

// libp2p-style peer id derivation from a raw ed25519 secret key: the
// public key is wrapped in the standard key protobuf, tagged with the
// identity multihash, and base58btc-encoded. This yields the familiar
// "12D3KooW..." form without pulling in a full p2p stack.

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func peerIDFromKey(secretKey []byte) string {
	if len(secretKey) != ed25519.SeedSize {
		return ""
	}
	priv := ed25519.NewKeyFromSeed(secretKey)
	pub := priv.Public().(ed25519.PublicKey)

	// PublicKey{Type: Ed25519, Data: pub} in protobuf wire format
	keyProto := append([]byte{0x08, 0x01, 0x12, 0x20}, pub...)
	// identity multihash: code 0x00, length, digest
	mh := append([]byte{0x00, byte(len(keyProto))}, keyProto...)

	return base58Encode(mh)
}

func base58Encode(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	// big-endian base conversion
	var digits []byte
	for _, b := range input[zeros:] {
		carry := int(b)
		for i := 0; i < len(digits); i++ {
			carry += int(digits[i]) << 8
			digits[i] = byte(carry % 58)
			carry /= 58
		}
		for carry > 0 {
			digits = append(digits, byte(carry%58))
			carry /= 58
		}
	}

	out := make([]byte, 0, zeros+len(digits))
	for i := 0; i < zeros; i++ {
		out = append(out, b58Alphabet[0])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		out = append(out, b58Alphabet[digits[i]])
	}
	return string(out)
}
