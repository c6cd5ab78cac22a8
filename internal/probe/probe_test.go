package probe

import "testing"

func TestPixelType(t *testing.T) {
	cases := map[int]string{1: "uint8", 8: "uint8", 12: "uint16", 16: "uint16", 32: "float"}
	for depth, want := range cases {
		if got := (Info{Depth: depth}).PixelType(); got != want {
			t.Fatalf("depth %d: got %s want %s", depth, got, want)
		}
	}
}
