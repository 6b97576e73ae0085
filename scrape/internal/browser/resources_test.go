package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "media": true}

	cases := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"image", true},
		{"Media", true},
		{"Font", false},
		{"Stylesheet", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.resType); got != c.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", c.resType, got, c.want)
		}
	}
}

func TestShouldBlock_DirectTypeName(t *testing.T) {
	set := map[string]bool{"xhr": true}
	if !shouldBlock(set, "XHR") {
		t.Error("direct lowercase type match failed")
	}
}
