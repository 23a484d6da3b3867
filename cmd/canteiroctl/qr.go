package main

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// halfBlocks is indexed by top | bottom<<1.
var halfBlocks = [4]rune{' ', '▀', '▄', '█'}

// renderQR draws content as a QR code in half blocks, packing two module
// rows into each terminal line so the code stays square.
func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	bits := qr.Bitmap()
	set := func(y, x int) int {
		if y < len(bits) && bits[y][x] {
			return 1
		}
		return 0
	}

	var sb strings.Builder
	for y := 0; y < len(bits); y += 2 {
		sb.WriteString("  ")
		for x := range bits[y] {
			sb.WriteRune(halfBlocks[set(y, x)|set(y+1, x)<<1])
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
