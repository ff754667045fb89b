package subaddr

import "errors"

// Monero's base58 is block-wise: the payload is split into 8-byte blocks,
// each encoded independently to a fixed width. This keeps addresses a fixed
// length but makes the encoding incompatible with Bitcoin-style base58.

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	fullBlockSize        = 8
	fullEncodedBlockSize = 11
)

// encodedBlockSizes[n] is the encoded width of an n-byte block.
var encodedBlockSizes = [9]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var b58Reverse [256]int8

func init() {
	for i := range b58Reverse {
		b58Reverse[i] = -1
	}
	for i, c := range b58Alphabet {
		b58Reverse[c] = int8(i)
	}
}

var errBase58 = errors.New("subaddr: invalid base58 encoding")

func encodeBase58(data []byte) string {
	out := make([]byte, 0, (len(data)/fullBlockSize+1)*fullEncodedBlockSize)
	for off := 0; off < len(data); off += fullBlockSize {
		end := off + fullBlockSize
		if end > len(data) {
			end = len(data)
		}
		out = append(out, encodeBlock(data[off:end])...)
	}
	return string(out)
}

func encodeBlock(block []byte) []byte {
	var num uint64
	for _, b := range block {
		num = num<<8 | uint64(b)
	}
	size := encodedBlockSizes[len(block)]
	enc := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		enc[i] = b58Alphabet[num%58]
		num /= 58
	}
	return enc
}

func decodeBase58(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*fullBlockSize/fullEncodedBlockSize+fullBlockSize)
	for off := 0; off < len(s); off += fullEncodedBlockSize {
		end := off + fullEncodedBlockSize
		if end > len(s) {
			end = len(s)
		}
		block, err := decodeBlock(s[off:end])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

func decodeBlock(block string) ([]byte, error) {
	size := -1
	for n, enc := range encodedBlockSizes {
		if enc == len(block) {
			size = n
			break
		}
	}
	if size <= 0 {
		return nil, errBase58
	}
	var num uint64
	for i := 0; i < len(block); i++ {
		digit := b58Reverse[block[i]]
		if digit < 0 {
			return nil, errBase58
		}
		prev := num
		num = num*58 + uint64(digit)
		if num < prev {
			return nil, errBase58 // overflow
		}
	}
	if size < fullBlockSize && num >= uint64(1)<<(8*size) {
		return nil, errBase58 // value does not fit the declared block size
	}
	dec := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		dec[i] = byte(num)
		num >>= 8
	}
	return dec, nil
}
