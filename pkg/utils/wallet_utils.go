package utils

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	bip32 "github.com/tyler-smith/go-bip32"
	bip39 "github.com/tyler-smith/go-bip39"
)

var pkRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

func ShortenAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

func DetermineType(input string) string {
	if IsMnemonic(input) {
		return "Secret Phrase"
	}
	if IsPrivateKey(input) {
		return "Private Key"
	}
	return "Unknown"
}

func IsMnemonic(input string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(input))
}

func IsPrivateKey(input string) bool {
	data := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return pkRegex.MatchString(data)
}

func PrivateKeyFromHex(input string) (*ecdsa.PrivateKey, error) {
	data := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return crypto.HexToECDSA(data)
}

// AddressFromMnemonic derives the first account of m/44'/60'/0'/0.
func AddressFromMnemonic(mnemonic, passphrase string) (common.Address, *ecdsa.PrivateKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return common.Address{}, nil, errors.New("invalid BIP-39 mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return common.Address{}, nil, err
	}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		0,
	}
	for _, idx := range path {
		if key, err = key.NewChildKey(idx); err != nil {
			return common.Address{}, nil, err
		}
	}
	pk, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return common.Address{}, nil, err
	}
	return crypto.PubkeyToAddress(pk.PublicKey), pk, nil
}

// FormatUnits renders a base-unit integer with the given number of decimals.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}

// FormatUnitsString is FormatUnits for decimal strings as returned by APIs.
func FormatUnitsString(amount string, decimals int) string {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return amount
	}
	return FormatUnits(value, decimals)
}

func MaxUint256() *big.Int {
	maxUint256 := new(big.Int)
	maxUint256.SetString("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)
	return maxUint256
}

func ChainIDHex256(id *big.Int) *gethmath.HexOrDecimal256 {
	return (*gethmath.HexOrDecimal256)(new(big.Int).Set(id))
}
