package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Port is the UDP port every miio device listens on
const Port = 54321

const (
	magic      = 0x2131
	headerSize = 32
)

var (
	ErrShortPacket = errors.New("miio: short packet")
	ErrBadMagic    = errors.New("miio: bad magic")
	ErrChecksum    = errors.New("miio: checksum mismatch")
	ErrBadToken    = errors.New("miio: token must be 32 hex characters")
)

// hello is sent before anything else; the reply carries the device id and stamp
var hello = []byte{
	0x21, 0x31, 0x00, 0x20,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff,
}

type packet struct {
	deviceID uint32
	stamp    uint32
	data     []byte // decrypted payload, nil for handshake replies
}

// codec holds the token-derived AES material
type codec struct {
	token []byte
	key   []byte
	iv    []byte
}

func newCodec(token string) (*codec, error) {
	t, err := hex.DecodeString(token)
	if err != nil || len(t) != 16 {
		return nil, ErrBadToken
	}

	key := md5.Sum(t)
	iv := md5.Sum(append(key[:], t...))

	return &codec{
		token: t,
		key:   key[:],
		iv:    iv[:],
	}, nil
}

func (c *codec) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	buf := make([]byte, len(plain), len(plain)+pad)
	copy(buf, plain)
	buf = append(buf, bytes.Repeat([]byte{byte(pad)}, pad)...)

	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(buf, buf)
	return buf, nil
}

func (c *codec) decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("miio: ciphertext length %d is not a multiple of the block size", len(ct))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(buf, ct)

	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(buf) {
		return nil, errors.New("miio: bad padding")
	}
	return buf[:len(buf)-pad], nil
}

func (c *codec) encode(deviceID, stamp uint32, payload []byte) ([]byte, error) {
	ct, err := c.encrypt(payload)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, headerSize+len(ct))
	binary.BigEndian.PutUint16(raw[0:], magic)
	binary.BigEndian.PutUint16(raw[2:], uint16(len(raw)))
	binary.BigEndian.PutUint32(raw[4:], 0)
	binary.BigEndian.PutUint32(raw[8:], deviceID)
	binary.BigEndian.PutUint32(raw[12:], stamp)
	copy(raw[headerSize:], ct)

	sum := c.checksum(raw[:16], ct)
	copy(raw[16:32], sum[:])

	return raw, nil
}

func (c *codec) checksum(header, ct []byte) [md5.Size]byte {
	h := md5.New()
	h.Write(header)
	h.Write(c.token)
	h.Write(ct)

	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func (c *codec) decode(raw []byte) (*packet, error) {
	if len(raw) < headerSize {
		return nil, ErrShortPacket
	}
	if binary.BigEndian.Uint16(raw[0:]) != magic {
		return nil, ErrBadMagic
	}

	length := int(binary.BigEndian.Uint16(raw[2:]))
	if length < headerSize || length > len(raw) {
		return nil, ErrShortPacket
	}
	raw = raw[:length]

	p := &packet{
		deviceID: binary.BigEndian.Uint32(raw[8:]),
		stamp:    binary.BigEndian.Uint32(raw[12:]),
	}

	// handshake reply, no payload
	if length == headerSize {
		return p, nil
	}

	ct := raw[headerSize:]
	sum := c.checksum(raw[:16], ct)
	if !bytes.Equal(sum[:], raw[16:32]) {
		return nil, ErrChecksum
	}

	data, err := c.decrypt(ct)
	if err != nil {
		return nil, err
	}
	// some firmware terminates the JSON with NULs
	p.data = bytes.TrimRight(data, "\x00")

	return p, nil
}
