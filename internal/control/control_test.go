package control

import (
	"bytes"
	"strings"
	"testing"

	"github.com/keenetic/opkg/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packagesIndex = `Package: a
Version: 1.0
Architecture: all
Depends: b (>= 1.0), c | d (=2.0)
Description: first line
 second line
 .

Package: b
Version: 2.0
Architecture: all
Provides: virt
Conflicts: x (<< 1.0), y
Replaces: x (<< 1.0)
Essential: yes
Size: 42
MD5Sum: abc
`

func TestReadStanzas(t *testing.T) {
	stanzas, err := ReadStanzas(strings.NewReader(packagesIndex))
	require.NoError(t, err)
	require.Len(t, stanzas, 2)

	assert.Equal(t, "a", stanzas[0].Get("Package"))
	assert.Equal(t, "first line\nsecond line\n.", stanzas[0].Get("description"))
	assert.Equal(t, "2.0", stanzas[1].Get("Version"))
}

func TestWriteRoundTrip(t *testing.T) {
	stanzas, err := ReadStanzas(strings.NewReader(packagesIndex))
	require.NoError(t, err)

	var buf bytes.Buffer
	for _, s := range stanzas {
		require.NoError(t, Write(&buf, s))
	}

	again, err := ReadStanzas(&buf)
	require.NoError(t, err)
	assert.Equal(t, stanzas, again)
}

func TestReadStanzasMalformed(t *testing.T) {
	_, err := ReadStanzas(strings.NewReader(" orphan continuation\n"))
	assert.Error(t, err)

	_, err = ReadStanzas(strings.NewReader("Package a\n"))
	assert.Error(t, err)
}

func TestToPackage(t *testing.T) {
	stanzas, err := ReadStanzas(strings.NewReader(packagesIndex))
	require.NoError(t, err)

	a, err := ToPackage(stanzas[0])
	require.NoError(t, err)
	require.Len(t, a.Depends, 2)
	assert.Equal(t, models.Constraint{Name: "b", Op: models.OpLaterEqual, Version: "1.0"}, a.Depends[0][0])
	assert.Equal(t, models.Alternatives{
		{Name: "c"},
		{Name: "d", Op: models.OpEqual, Version: "2.0"},
	}, a.Depends[1])
	assert.False(t, a.Essential)

	b, err := ToPackage(stanzas[1])
	require.NoError(t, err)
	assert.True(t, b.Essential)
	assert.Equal(t, []string{"virt"}, b.Provides)
	assert.Equal(t, []models.Constraint{{Name: "x", Op: models.OpEarlier, Version: "1.0"}, {Name: "y"}}, b.Conflicts)
	assert.Len(t, b.Replaces, 1)
	assert.Equal(t, int64(42), b.Size)
	assert.Equal(t, "abc", b.MD5Sum)
	assert.True(t, b.ProvidesName("virt"))
	assert.True(t, b.ProvidesName("b"))
}

func TestToPackageMissingFields(t *testing.T) {
	_, err := ToPackage(Stanza{{Key: "Version", Value: "1"}})
	assert.ErrorIs(t, err, models.Err(models.ErrPackageParse))

	_, err = ToPackage(Stanza{{Key: "Package", Value: "a"}})
	assert.ErrorIs(t, err, models.Err(models.ErrPackageParse))
}

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		in   string
		want models.Constraint
	}{
		{"b", models.Constraint{Name: "b"}},
		{"b (= 1.0)", models.Constraint{Name: "b", Op: models.OpEqual, Version: "1.0"}},
		{"b (=1.0)", models.Constraint{Name: "b", Op: models.OpEqual, Version: "1.0"}},
		{"b(>=1.0)", models.Constraint{Name: "b", Op: models.OpLaterEqual, Version: "1.0"}},
		{"a (<< 2.0)", models.Constraint{Name: "a", Op: models.OpEarlier, Version: "2.0"}},
		{"a (< 2.0)", models.Constraint{Name: "a", Op: models.OpEarlierEqual, Version: "2.0"}},
		{"libc:any", models.Constraint{Name: "libc"}},
	}

	for _, tt := range tests {
		got, err := ParseConstraint(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "(>= 1)", "b (>= 1", "b (!! 1)", "b (>=)"} {
		_, err := ParseConstraint(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		in   string
		want models.Constraint
	}{
		{"a", models.Constraint{Name: "a"}},
		{"a*", models.Constraint{Name: "a*"}},
		{"a=1.0", models.Constraint{Name: "a", Op: models.OpEqual, Version: "1.0"}},
		{"a<=2.0", models.Constraint{Name: "a", Op: models.OpEarlierEqual, Version: "2.0"}},
		{"a<<2.0", models.Constraint{Name: "a", Op: models.OpEarlier, Version: "2.0"}},
		{"a>=4.0", models.Constraint{Name: "a", Op: models.OpLaterEqual, Version: "4.0"}},
	}

	for _, tt := range tests {
		got, err := ParseRequest(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseRequest("=1.0")
	assert.Error(t, err)
	_, err = ParseRequest("a>=")
	assert.Error(t, err)
}

func TestFormatDependencies(t *testing.T) {
	groups, err := ParseDependencies("b (>= 1.0), c | d")
	require.NoError(t, err)
	assert.Equal(t, "b (>= 1.0), c | d", FormatDependencies(groups))
}

func TestConffilesField(t *testing.T) {
	list := []models.Conffile{
		{Path: "/etc/a.conf", MD5: "d41d8cd98f00b204e9800998ecf8427e"},
		{Path: "/etc/b.conf", MD5: "0cc175b9c0f1b6a831c399e269772661"},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Stanza{{Key: "Package", Value: "a"}, {Key: "Conffiles", Value: FormatConffiles(list)}}))
	assert.Equal(t, "Package: a\nConffiles:\n /etc/a.conf d41d8cd98f00b204e9800998ecf8427e\n /etc/b.conf 0cc175b9c0f1b6a831c399e269772661\n\n", buf.String())

	stanzas, err := ReadStanzas(&buf)
	require.NoError(t, err)
	require.Len(t, stanzas, 1)
	parsed, err := ParseConffiles(stanzas[0].Get("Conffiles"))
	require.NoError(t, err)
	assert.Equal(t, list, parsed)

	_, err = ParseConffiles("/etc/a.conf")
	assert.Error(t, err)
}
