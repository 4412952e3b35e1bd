package cookies

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpen/pkg/domain"
)

func sampleJar() []domain.Cookie {
	return []domain.Cookie{
		{Name: "sid", Value: "abc123", Domain: "example.com", Path: "/", Expires: 1924992000, Secure: true, HTTPOnly: true, SameSite: "Lax"},
		{Name: "theme", Value: "dark", Domain: ".example.com", Path: "/app"},
	}
}

func TestJSONRoundTrip(t *testing.T) {
	jar := sampleJar()

	blob, err := ExportJSON(jar)
	require.NoError(t, err)

	back, err := ImportJSON(blob)
	require.NoError(t, err)
	assert.Equal(t, jar, back)
}

func TestImportSingleObject(t *testing.T) {
	back, err := ImportJSON(`{"name":"sid","value":"v","domain":"example.com"}`)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "sid", back[0].Name)
	assert.Equal(t, "example.com", back[0].Domain)
}

func TestImportMalformed(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"not json", "{nope"},
		{"scalar", `"just a string"`},
		{"array of scalars", `[1,2,3]`},
		{"missing name", `[{"value":"v"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ImportJSON(tc.blob)
			assert.True(t, errors.Is(err, domain.ErrCookieFormat), "got %v", err)
		})
	}
}

func TestExportNetscape(t *testing.T) {
	out := ExportNetscape(sampleJar())
	assert.Equal(t,
		".example.com\tTRUE\t/\tTRUE\t1924992000\tsid\tabc123\n"+
			".example.com\tTRUE\t/app\tFALSE\t0\ttheme\tdark",
		out)
}

func TestExportHeader(t *testing.T) {
	out := ExportHeader(sampleJar())
	assert.Equal(t, "sid=abc123; theme=dark", out)
}

func TestExportDispatch(t *testing.T) {
	jar := sampleJar()

	_, err := Export(jar, "json")
	assert.NoError(t, err)
	_, err = Export(jar, "netscape")
	assert.NoError(t, err)
	_, err = Export(jar, "header")
	assert.NoError(t, err)

	_, err = Export(jar, "yaml")
	assert.True(t, errors.Is(err, domain.ErrCookieFormat))
}
