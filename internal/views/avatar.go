package views

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"
)

// AvatarPalette is the colour set of generated avatars.
var AvatarPalette = []string{"#92A1C6", "#146A7C", "#F0AB3D", "#C271B4", "#C20D90"}

const avatarGrid = 5

// Avatar returns a square SVG identicon for seed. The same seed always
// yields the same image.
func Avatar(seed string, size int) []byte {
	if seed == "" {
		seed = "User"
	}
	if size <= 0 {
		size = 80
	}
	sum := blake3.Sum256([]byte(seed))
	bg := AvatarPalette[int(sum[0])%len(AvatarPalette)]
	fg := AvatarPalette[int(sum[1])%len(AvatarPalette)]
	if fg == bg {
		fg = AvatarPalette[(int(sum[1])+1)%len(AvatarPalette)]
	}

	cell := float64(size) / avatarGrid
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" role="img">`, size, size, size, size)
	fmt.Fprintf(&buf, `<clipPath id="a"><rect width="%d" height="%d" rx="%d"/></clipPath><g clip-path="url(#a)">`, size, size, size/2)
	fmt.Fprintf(&buf, `<rect width="%d" height="%d" fill="%s"/>`, size, size, bg)
	// Mirror the left three columns for a symmetric face.
	for row := 0; row < avatarGrid; row++ {
		for col := 0; col < (avatarGrid+1)/2; col++ {
			bit := sum[2+row*3+col]
			if bit&1 == 0 {
				continue
			}
			fill := fg
			if bit&0x6 == 0x6 {
				fill = AvatarPalette[int(bit>>3)%len(AvatarPalette)]
			}
			for _, c := range []int{col, avatarGrid - 1 - col} {
				fmt.Fprintf(&buf, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"/>`,
					float64(c)*cell, float64(row)*cell, cell, cell, fill)
				if c == avatarGrid-1-c {
					break
				}
			}
		}
	}
	buf.WriteString(`</g></svg>`)
	return buf.Bytes()
}
