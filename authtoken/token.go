// Package authtoken implements the bearer token issued to a client after
// a successful Auth handshake and verified on every reconnect: an
// HMAC-SHA256-signed, fixed-layout token carrying the user id, an
// expiry, and a serial number that lets every outstanding token be
// invalidated at once by bumping the configured serial.
package authtoken

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/primcluster/mesh/xerr"
)

// Token layout: [8:UserID][4:expires][2:authLevel][2:serial][32:signature] == 48 bytes.
const (
	uidStart = 0
	uidEnd   = 8

	expiresStart = 8
	expiresEnd   = 12

	authLvlStart = 12
	authLvlEnd   = 14

	serialStart = 14
	serialEnd   = 16

	signatureStart = 16

	tokenLength    = 48
	minHMACKeyLen  = 32
	maxAuthLevel   = 3
)

// Issuer signs and verifies bearer tokens under one HMAC key and serial
// number.
type Issuer struct {
	key      []byte
	lifetime time.Duration
	serial   uint16
}

// NewIssuer builds an Issuer. key must be at least 32 bytes.
func NewIssuer(key []byte, lifetime time.Duration, serial uint16) (*Issuer, error) {
	if len(key) < minHMACKeyLen {
		return nil, errors.New("authtoken: key is missing or too short")
	}
	if lifetime <= 0 {
		return nil, errors.New("authtoken: invalid lifetime")
	}
	return &Issuer{key: key, lifetime: lifetime, serial: serial}, nil
}

// Issue generates a new signed token for userID at authLevel. A zero
// lifetime falls back to the Issuer's configured default.
func (is *Issuer) Issue(userID uint64, authLevel int, lifetime time.Duration) ([]byte, time.Time, error) {
	if lifetime == 0 {
		lifetime = is.lifetime
	} else if lifetime < 0 {
		return nil, time.Time{}, errors.New("authtoken: negative lifetime")
	}
	if authLevel < 0 || authLevel > maxAuthLevel {
		return nil, time.Time{}, errors.New("authtoken: invalid auth level")
	}

	expires := time.Now().Add(lifetime).UTC().Round(time.Second)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, userID)
	binary.Write(buf, binary.LittleEndian, uint32(expires.Unix()))
	binary.Write(buf, binary.LittleEndian, uint16(authLevel))
	binary.Write(buf, binary.LittleEndian, is.serial)

	hasher := hmac.New(sha256.New, is.key)
	hasher.Write(buf.Bytes())
	buf.Write(hasher.Sum(nil))

	return buf.Bytes(), expires, nil
}

// Verify checks a token's length, serial number, signature, and
// expiration, returning the embedded user id and auth level on success.
func (is *Issuer) Verify(token []byte) (userID uint64, authLevel int, expires time.Time, err error) {
	if len(token) != tokenLength {
		return 0, 0, time.Time{}, xerr.New(xerr.Auth, "authtoken: invalid token length", nil)
	}

	userID = binary.LittleEndian.Uint64(token[uidStart:uidEnd])

	authLevel = int(binary.LittleEndian.Uint16(token[authLvlStart:authLvlEnd]))
	if authLevel < 0 || authLevel > maxAuthLevel {
		return 0, 0, time.Time{}, xerr.New(xerr.Auth, "authtoken: invalid auth level", nil)
	}

	if serial := binary.LittleEndian.Uint16(token[serialStart:serialEnd]); serial != is.serial {
		return 0, 0, time.Time{}, xerr.New(xerr.Auth, "authtoken: serial number does not match", nil)
	}

	hasher := hmac.New(sha256.New, is.key)
	hasher.Write(token[:signatureStart])
	if !hmac.Equal(token[signatureStart:], hasher.Sum(nil)) {
		return 0, 0, time.Time{}, xerr.New(xerr.Auth, "authtoken: invalid signature", nil)
	}

	expires = time.Unix(int64(binary.LittleEndian.Uint32(token[expiresStart:expiresEnd])), 0).UTC()
	if expires.Before(time.Now().Add(time.Second)) {
		return 0, 0, time.Time{}, xerr.New(xerr.Auth, "authtoken: expired token", nil)
	}

	return userID, authLevel, expires, nil
}
