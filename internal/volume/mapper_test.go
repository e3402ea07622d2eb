package volume

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	m := NewMapper("teststorage", "tes", "s3cret", time.Hour)
	m.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestToStorageURIMappedPrefixes(t *testing.T) {
	m := newTestMapper(t)

	for _, path := range []string{
		"/tes-wd/shared/out.txt",
		"/tes-wd/shared/nested/dir/file.bam",
		"/tes-wd/shared-global/ref/genome.fa",
	} {
		uri := m.ToStorageURI(path)
		u, err := url.Parse(uri)
		if err != nil {
			t.Fatalf("ToStorageURI(%q) produced unparseable URI %q: %v", path, uri, err)
		}
		if u.Host != "teststorage.blob.core.windows.net" {
			t.Errorf("host = %q, want configured account endpoint", u.Host)
		}
		if !strings.HasPrefix(u.Path, "/tes/") {
			t.Errorf("path = %q, want container prefix /tes/", u.Path)
		}
		if u.Query().Get("sig") == "" || u.Query().Get("se") == "" {
			t.Errorf("ToStorageURI(%q) missing access token query: %q", path, uri)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	m := newTestMapper(t)

	paths := []string{
		"/tes-wd/shared/out.txt",
		"/tes-wd/shared/a/b/c",
		"/tes-wd/shared-global/data set/with space.txt",
	}
	for _, p := range paths {
		if got := m.FromStorageURI(m.ToStorageURI(p)); got != p {
			t.Errorf("FromStorageURI(ToStorageURI(%q)) = %q, want identity", p, got)
		}
	}
}

func TestUnmappedPathsPassThrough(t *testing.T) {
	m := newTestMapper(t)

	unmapped := []string{
		"/tes-wd/private/scratch.txt",
		"/tes-wd",
		"/data/elsewhere.txt",
		"https://example.com/remote.txt",
	}
	for _, p := range unmapped {
		if got := m.ToStorageURI(p); got != p {
			t.Errorf("ToStorageURI(%q) = %q, want unchanged", p, got)
		}
		if got := m.FromStorageURI(p); got != p {
			t.Errorf("FromStorageURI(%q) = %q, want unchanged", p, got)
		}
	}
}

func TestFromStorageURIForeignContainer(t *testing.T) {
	m := newTestMapper(t)

	foreign := []string{
		"https://teststorage.blob.core.windows.net/other/shared/file.txt",
		"https://elsewhere.blob.core.windows.net/tes/shared/file.txt",
	}
	for _, uri := range foreign {
		if got := m.FromStorageURI(uri); got != uri {
			t.Errorf("FromStorageURI(%q) = %q, want unchanged", uri, got)
		}
	}
}

func TestTokenExpiryUsesTTL(t *testing.T) {
	m := newTestMapper(t)

	uri := m.ToStorageURI("/tes-wd/shared/x")
	u, _ := url.Parse(uri)
	se, err := time.Parse(time.RFC3339, u.Query().Get("se"))
	if err != nil {
		t.Fatalf("parse se: %v", err)
	}
	want := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	if !se.Equal(want) {
		t.Errorf("token expiry = %v, want %v", se, want)
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/tes-wd", true},
		{"/tes-wd/anything", true},
		{"/tes-wd/shared/x", true},
		{"/tes-wd/shared-global/x", true},
		{"/tes-wdx", false},
		{"/home/user/file", false},
		{"", false},
	}
	for _, c := range cases {
		if got := Allowed(c.path); got != c.want {
			t.Errorf("Allowed(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestMapped(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/tes-wd/shared", true},
		{"/tes-wd/shared/x", true},
		{"/tes-wd/shared-global/x", true},
		{"/tes-wd", false},
		{"/tes-wd/private", false},
		{"/tes-wd/sharedx", false},
	}
	for _, c := range cases {
		if got := Mapped(c.path); got != c.want {
			t.Errorf("Mapped(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}
