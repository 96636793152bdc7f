/* -*- coding: utf-8 -*-
* ------------------------------------------------------------------------------
*
*   Copyright 2018-2019 Fetch.AI Limited
*
*   Licensed under the Apache License, Version 2.0 (the "License");
*   you may not use this file except in compliance with the License.
*   You may obtain a copy of the License at
*
*       http://www.apache.org/licenses/LICENSE-2.0
*
*   Unless required by applicable law or agreed to in writing, software
*   distributed under the License is distributed on an "AS IS" BASIS,
*   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*   See the License for the specific language governing permissions and
*   limitations under the License.
*
* ------------------------------------------------------------------------------
 */

// Package identity implements address derivation, peer-id derivation, and
// proof-of-representation signing/verification for the ledgers the ACN
// overlay supports. All functions here are pure and deterministic: no
// network I/O, no global mutable state.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/bech32"
	ethCommon "github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160" // nolint:staticcheck
	"golang.org/x/crypto/sha3"
)

// Ledger identifies the address-derivation and signature scheme a record
// is bound to.
type Ledger string

const (
	FetchAI  Ledger = "fetchai"
	Cosmos   Ledger = "cosmos"
	Ethereum Ledger = "ethereum"
)

// ErrUnsupportedLedger is returned by any dispatch table lookup on an
// unrecognized ledger id.
var ErrUnsupportedLedger = errors.New("unsupported ledger")

// Supported reports whether ledger is one of the schemes this node knows.
func Supported(ledger Ledger) bool {
	switch ledger {
	case FetchAI, Cosmos, Ethereum:
		return true
	default:
		return false
	}
}

var bech32Prefix = map[Ledger]string{
	FetchAI: "fetch",
	Cosmos:  "cosmos",
}

// DeriveAddress computes the ledger-specific address of a hex-encoded
// public key. For fetchai/cosmos, publicKey is the compressed secp256k1
// key; for ethereum, it is the 64-byte uncompressed key without its 0x04
// byte, written with a "0x" prefix.
func DeriveAddress(ledger Ledger, publicKey string) (string, error) {
	switch ledger {
	case FetchAI:
		return bech32AddressFromPublicKey(bech32Prefix[FetchAI], publicKey)
	case Cosmos:
		return bech32AddressFromPublicKey(bech32Prefix[Cosmos], publicKey)
	case Ethereum:
		return ethereumAddressFromPublicKey(publicKey)
	default:
		return "", ErrUnsupportedLedger
	}
}

// bech32AddressFromPublicKey implements the fetchai/cosmos scheme: sha256
// then ripemd160 of the compressed secp256k1 bytes, bech32-encoded.
func bech32AddressFromPublicKey(prefix string, publicKey string) (string, error) {
	hexBytes, err := hex.DecodeString(publicKey)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256(hexBytes)
	ripe := ripemd160.New()
	if _, err := ripe.Write(sha[:]); err != nil {
		return "", err
	}
	fiveBit, err := bech32.ConvertBits(ripe.Sum(nil), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, fiveBit)
}

// ethereumAddressFromPublicKey implements the EIP-55 checksummed scheme:
// the leading "0x" is stripped, then Keccak-256 of the 64-byte uncompressed
// key (no 0x04 byte), last 20 bytes.
func ethereumAddressFromPublicKey(publicKey string) (string, error) {
	if len(publicKey) < 2 {
		return "", errors.New("malformed ethereum public key")
	}
	hexBytes, err := hex.DecodeString(publicKey[2:])
	if err != nil {
		return "", err
	}
	hash := sha3.NewLegacyKeccak256()
	if _, err := hash.Write(hexBytes); err != nil {
		return "", err
	}
	digest := hash.Sum(nil)
	return checksumEIP55(digest[12:]), nil
}

// checksumEIP55 mixed-case checksums a 20-byte address per EIP-55.
func checksumEIP55(address []byte) string {
	unchecksummed := hex.EncodeToString(address)
	sha := sha3.NewLegacyKeccak256()
	_, _ = sha.Write([]byte(unchecksummed))
	hash := sha.Sum(nil)

	result := []byte(unchecksummed)
	for i := range result {
		hashByte := hash[i/2]
		if i%2 == 0 {
			hashByte >>= 4
		} else {
			hashByte &= 0xf
		}
		if result[i] > '9' && hashByte > 7 {
			result[i] -= 32
		}
	}
	return "0x" + string(result)
}

// PeerIDFromPeerPublicKey returns the libp2p multihash peer id of a
// hex-encoded compressed secp256k1 public key.
func PeerIDFromPeerPublicKey(peerPublicKey string) (peer.ID, error) {
	b, err := hex.DecodeString(peerPublicKey)
	if err != nil {
		return "", err
	}
	pub, err := btcec.ParsePubKey(b, btcec.S256())
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey((*crypto.Secp256k1PublicKey)(pub))
}

// KeyPairFromHex builds a libp2p key pair from a hex-encoded secp256k1
// private key, the format used for node identities and agent keys alike.
func KeyPairFromHex(hexKey string) (crypto.PrivKey, crypto.PubKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), raw)
	return crypto.KeyPairFromStdKey(priv)
}

// PublicKeyHex returns the hex-encoded compressed serialization of a
// libp2p public key, the wire form used throughout AgentRecord/PeerRecord.
func PublicKeyHex(pub crypto.PubKey) (string, error) {
	raw, err := pub.Raw()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// strSigToDER converts the base64-decoded RFC6979 R||S signature used by
// fetchai/cosmos into the ASN.1 DER form btcec expects.
func strSigToDER(signature []byte) []byte {
	rb := signature[:len(signature)/2]
	sb := signature[len(signature)/2:]
	length := 6 + len(rb) + len(sb)
	sigDER := make([]byte, length)
	sigDER[0] = 0x30
	sigDER[1] = byte(length - 2)
	sigDER[2] = 0x02
	sigDER[3] = byte(len(rb))
	offset := copy(sigDER[4:], rb) + 4
	sigDER[offset] = 0x02
	sigDER[offset+1] = byte(len(sb))
	copy(sigDER[offset+2:], sb)
	return sigDER
}

// derToStrSig is the inverse of strSigToDER, used by Sign.
func derToStrSig(der []byte) ([]byte, error) {
	sig, err := btcec.ParseDERSignature(der, btcec.S256())
	if err != nil {
		return nil, err
	}
	return append(sig.R.Bytes(), sig.S.Bytes()...), nil
}

// VerifySignature verifies message against signature under publicKey for
// the given ledger, implementing verify_por's per-ledger dispatch.
func VerifySignature(ledger Ledger, message []byte, signature string, publicKey string) (bool, error) {
	switch ledger {
	case FetchAI, Cosmos:
		return verifyBTCSignature(message, signature, publicKey)
	case Ethereum:
		return verifyEthereumSignature(message, signature, publicKey)
	default:
		return false, ErrUnsupportedLedger
	}
}

// verifyBTCSignature checks a base64 RFC6979 string-encoded ECDSA
// signature (R||S) over the raw sha256 digest of message.
func verifyBTCSignature(message []byte, signature string, publicKey string) (bool, error) {
	pubKeyBytes, err := hex.DecodeString(publicKey)
	if err != nil {
		return false, err
	}
	verifyKey, err := btcec.ParsePubKey(pubKeyBytes, btcec.S256())
	if err != nil {
		return false, err
	}

	sigBytes, err := decodeBase64(signature)
	if err != nil {
		return false, err
	}
	sig, err := btcec.ParseSignature(strSigToDER(sigBytes), btcec.S256())
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], verifyKey), nil
}

// verifyEthereumSignature recovers the signer address from an Ethereum
// personal-message signature and compares it against publicKey's address.
func verifyEthereumSignature(message []byte, signature string, publicKey string) (bool, error) {
	expected, err := ethereumAddressFromPublicKey(publicKey)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverEthereumAddress(message, signature)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}

// RecoverEthereumAddress recovers the EIP-55 checksummed address that
// produced an Ethereum personal-message signature over message.
func RecoverEthereumAddress(message []byte, signature string) (string, error) {
	sigBytes, err := ethCommon.Decode(signature)
	if err != nil {
		return "", err
	}
	if len(sigBytes) != 65 {
		return "", errors.New("malformed ethereum signature")
	}
	if sigBytes[64] != 27 && sigBytes[64] != 28 {
		return "", errors.New("invalid ethereum signature (v is not 27 or 28)")
	}
	sigBytes[64] -= 27

	recovered, err := ethCrypto.SigToPub(ethPersonalMessageHash(message), sigBytes)
	if err != nil {
		return "", err
	}
	return ethCrypto.PubkeyToAddress(*recovered).Hex(), nil
}

// ethPersonalMessageHash implements Ethereum's "\x19Ethereum Signed
// Message:\n<len>" prefixed Keccak-256 digest.
func ethPersonalMessageHash(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return ethCrypto.Keccak256([]byte(msg))
}

// Sign signs message with a hex-encoded secp256k1 private key under the
// given ledger's scheme, returning the wire-form signature string.
func Sign(ledger Ledger, message []byte, privateKeyHex string) (string, error) {
	switch ledger {
	case FetchAI, Cosmos:
		return signBTC(message, privateKeyHex)
	case Ethereum:
		return "", errors.New("ethereum signing not supported by this node")
	default:
		return "", ErrUnsupportedLedger
	}
}

func signBTC(message []byte, privateKeyHex string) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", err
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), raw)

	digest := sha256.Sum256(message)
	sig, err := priv.Sign(digest[:])
	if err != nil {
		return "", err
	}
	strSig, err := derToStrSig(sig.Serialize())
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(strSig), nil
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
