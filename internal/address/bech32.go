package address

import (
	"errors"
	"fmt"
	"strings"
)

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

const (
	bech32Const  = 1
	bech32mConst = 0x2bc830a3
)

var bech32Gen = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= bech32Gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

// validateBech32 checks a segwit address: case, charset, checksum and witness version.
// Version 0 uses bech32, versions 1..16 use bech32m.
func validateBech32(addr, hrp string) error {
	if addr != strings.ToLower(addr) && addr != strings.ToUpper(addr) {
		return errors.New("mixed-case bech32 address")
	}
	addr = strings.ToLower(addr)
	if len(addr) < 14 || len(addr) > 90 {
		return fmt.Errorf("bech32 length %d out of range", len(addr))
	}
	sep := strings.LastIndexByte(addr, '1')
	if addr[:sep] != hrp {
		return fmt.Errorf("expected prefix %s1", hrp)
	}
	data := make([]byte, 0, len(addr)-sep-1)
	for _, c := range addr[sep+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return fmt.Errorf("invalid bech32 character %q", c)
		}
		data = append(data, byte(idx))
	}
	if len(data) < 7 {
		return errors.New("bech32 data too short")
	}

	want := uint32(bech32Const)
	if data[0] > 16 {
		return fmt.Errorf("invalid witness version %d", data[0])
	}
	if data[0] > 0 {
		want = bech32mConst
	}
	if bech32Polymod(append(hrpExpand(hrp), data...)) != want {
		return errors.New("bech32 checksum mismatch")
	}
	return nil
}
