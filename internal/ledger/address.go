package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// rewardsAddrLength is the expected hex length of a rewards address,
// without the 0x prefix.
const rewardsAddrLength = 40

// ValidateRewardsAddr parses a user-entered rewards address. Addresses
// written in a single case are accepted as-is; mixed-case input must
// carry a valid EIP-55 checksum. The normalised 0x-prefixed form is
// returned.
func ValidateRewardsAddr(input string) (string, error) {
	value := strings.TrimPrefix(input, "0x")

	if len(value) != rewardsAddrLength {
		return "", fmt.Errorf("unexpected length of rewards address")
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", fmt.Errorf("the address entered is not hex-encoded")
	}

	addr := common.HexToAddress(value)
	if strings.ToLower(value) == value || strings.ToUpper(value) == value {
		// non-checksummed address
		return addr.Hex(), nil
	}
	// mixed case: validate the EIP-55 checksum
	if addr.Hex() != "0x"+value {
		return "", fmt.Errorf("checksum validation failed")
	}
	return addr.Hex(), nil
}
