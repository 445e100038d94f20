package txengine

import (
	"bytes"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	addressSize        = 24
	addressEncodedSize = 39
	checksumSize       = 3
)

// Network identifiers carried in the first address byte and in the transaction header.
const (
	NetworkMainnet byte = 0x68
	NetworkTestnet byte = 0x98
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Address is a decoded ledger address: network byte, 20-byte key digest, 3-byte checksum.
type Address [addressSize]byte

// ParseAddress decodes the 39-character base32 form. Dashes and case are ignored.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	if len(s) != addressEncodedSize {
		return a, fmt.Errorf("address must be %d characters, got %d", addressEncodedSize, len(s))
	}
	// 39 chars carry 195 bits; one filler char completes the last 5-byte group.
	raw, err := addressEncoding.DecodeString(s + "A")
	if err != nil {
		return a, fmt.Errorf("address is not base32: %w", err)
	}
	copy(a[:], raw[:addressSize])
	if !a.checksumOK() {
		return a, fmt.Errorf("address checksum mismatch")
	}
	return a, nil
}

// NewAddress builds an address from a network byte and a 20-byte key digest.
func NewAddress(network byte, digest []byte) (Address, error) {
	var a Address
	if len(digest) != addressSize-1-checksumSize {
		return a, fmt.Errorf("digest must be %d bytes", addressSize-1-checksumSize)
	}
	a[0] = network
	copy(a[1:], digest)
	sum := sha3.Sum256(a[:addressSize-checksumSize])
	copy(a[addressSize-checksumSize:], sum[:checksumSize])
	return a, nil
}

func (a Address) Network() byte { return a[0] }

func (a Address) String() string {
	return addressEncoding.EncodeToString(append(a[:], 0))[:addressEncodedSize]
}

func (a Address) checksumOK() bool {
	sum := sha3.Sum256(a[:addressSize-checksumSize])
	return bytes.Equal(sum[:checksumSize], a[addressSize-checksumSize:])
}
