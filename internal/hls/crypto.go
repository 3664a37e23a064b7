package hls

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/sluicedev/sluice/internal/stream"
)

// sequenceIV derives the default AES IV from a segment sequence
// number: 16 bytes, big-endian, per RFC 8216 §5.2.
func sequenceIV(sequence int64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], uint64(sequence))
	return iv
}

// decryptAES128 decrypts one whole segment with AES-128-CBC and strips
// the PKCS#7 padding from the final block.
func decryptAES128(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, stream.Errorf("invalid AES key: %v", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, stream.Errorf("encrypted segment length %d is not a multiple of the AES block size", len(data))
	}
	if len(iv) != aes.BlockSize {
		return nil, stream.Errorf("invalid AES IV length %d", len(iv))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return unpadPKCS7(out)
}

func unpadPKCS7(data []byte) ([]byte, error) {
	pad := int(data[len(data)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(data) {
		return nil, stream.Errorf("invalid PKCS#7 padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, stream.Errorf("inconsistent PKCS#7 padding")
		}
	}
	return data[:len(data)-pad], nil
}
