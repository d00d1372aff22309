package schema

import (
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestParseKeepsDeclarationOrder(t *testing.T) {
	doc, err := Parse([]byte(`
ZView:
  fields:
    b: b
    a: a
---
AView:
  fields:
    c: c
`))
	assert.NoError(t, err)
	assert.Equal(t, 2, doc.Len())
	assert.Equal(t, "ZView", doc.Entries()[0].Name)
	assert.Equal(t, "AView", doc.Entries()[1].Name)

	e, ok := doc.Entry("ZView")
	assert.True(t, ok)
	assert.Equal(t, []string{"fields"}, e.Keys())
	assert.True(t, e.Has("fields"))
	assert.False(t, e.Has("eval"))
	assert.Equal(t, "<input>", e.Source)

	cat, err := Compile(doc)
	assert.NoError(t, err)
	v, _ := cat.View("ZView")
	assert.Equal(t, []string{"b", "a"}, v.FieldNames())
}

func TestParseAliases(t *testing.T) {
	doc, err := Parse([]byte(`
BaseView:
  fields: &common
    name: name
    mtu: { mtu: int }
CopyView:
  fields: *common
`))
	assert.NoError(t, err)
	cat, err := Compile(doc)
	assert.NoError(t, err)
	v, _ := cat.View("CopyView")
	assert.Equal(t, []string{"name", "mtu"}, v.FieldNames())
}

func TestParseEmptyDocument(t *testing.T) {
	doc, err := Parse([]byte("---\n"))
	assert.NoError(t, err)
	assert.Equal(t, 0, doc.Len())
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("AView: scalar\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("AView:\n  fields:\n    a: a\n  fields:\n    b: b\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("AView: [unterminated\n"))
	assert.Error(t, err)
}

func TestParseDuplicateAcrossDocuments(t *testing.T) {
	_, err := Parse([]byte("AView:\n  fields:\n    a: a\n---\nAView:\n  fields:\n    b: b\n"))
	assertSchemaError(t, err, "AView", "")
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("BView:\n  fields:\n    b: b\n"), 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("AView:\n  fields:\n    a: a\n"), 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	doc, err := ParseDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 2, doc.Len())
	assert.Equal(t, "AView", doc.Entries()[0].Name)
	assert.Equal(t, filepath.Join(dir, "a.yml"), doc.Entries()[0].Source)

	_, err = ParseDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestParseFilesMerge(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	assert.NoError(t, os.WriteFile(a, []byte("AView:\n  fields:\n    a: a\n"), 0o600))
	assert.NoError(t, os.WriteFile(b, []byte("AView:\n  fields:\n    b: b\n"), 0o600))

	_, err := ParseFiles(a, b)
	assertSchemaError(t, err, "AView", "")

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	assert.NoError(t, os.Mkdir(sub, 0o700))
	assert.NoError(t, os.WriteFile(filepath.Join(sub, "b.yaml"), []byte("{}"), 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("{}"), 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	single := filepath.Join(t.TempDir(), "single.yaml")
	assert.NoError(t, os.WriteFile(single, []byte("{}"), 0o600))

	files, err := Files(single, dir)
	assert.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "a.yml"), filepath.Join(sub, "b.yaml")}, files)

	_, err = Files(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
