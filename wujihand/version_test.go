package wujihand

import "testing"

func TestFirmwareVersionFromRaw(t *testing.T) {
	v := firmwareVersionFromRaw(0x42000103)
	if v != Version(3, 1, 0, 'B') {
		t.Errorf("decoded %+v", v)
	}
	if got := v.String(); got != "3.1.0B" {
		t.Errorf("string = %q", got)
	}
	if got := firmwareVersionFromRaw(0x00000203).String(); got != "3.2.0" {
		t.Errorf("string without pre = %q", got)
	}
}

func TestFirmwareVersionOrdering(t *testing.T) {
	cases := []struct {
		a, b FirmwareVersion
		less bool
	}{
		{Version(2, 9, 9, 'Z'), Version(3, 0, 0, 0), true},
		{Version(3, 0, 0, 0), Version(3, 0, 0, 0), false},
		{Version(3, 1, 0, 0), Version(3, 1, 0, 'D'), true},
		{Version(3, 1, 0, 'D'), Version(3, 1, 0, 'C'), false},
		{Version(3, 1, 9, 0), Version(3, 2, 0, 'B'), true},
		{Version(6, 4, 1, 'J'), Version(6, 4, 0, 'J'), false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.less {
			t.Errorf("%s < %s = %v, want %v", c.a, c.b, got, c.less)
		}
		if got := c.a.AtLeast(c.b); got == c.less {
			t.Errorf("%s >= %s = %v, want %v", c.a, c.b, got, !c.less)
		}
	}
}
