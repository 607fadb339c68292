package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitions = `
models:
  User:
    paths:
      name: string
      age: number
    virtuals:
      posts:
        ref: Post
        localField: _id
        foreignField: author
        options:
          sort: -createdAt
          limit: 5
  Post:
    collection: articles
    versionKey: rev
    skipVersioning: [views]
    paths:
      title: string
      views: number
      author: {type: objectid, ref: User}
      tags: {type: array, of: string}
      comments:
        type: array
        paths:
          body: string
    discriminatorKey: kind
    discriminators:
      Video:
        paths:
          duration: number
`

func TestParseDefinitions(t *testing.T) {
	defs, err := Parse([]byte(definitions))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	post, user := defs[0], defs[1]
	assert.Equal(t, "Post", post.Name)
	assert.Equal(t, "articles", post.Collection)
	assert.Equal(t, "users", user.Collection)

	ps := post.Schema
	assert.Equal(t, "rev", ps.VersionKey)
	assert.True(t, ps.SkipVersioning["views"])
	assert.Equal(t, "User", ps.Path("author").Ref.Name)
	assert.True(t, ps.Path("tags").IsArray())
	assert.True(t, ps.Path("comments.body").UnderneathDocArray)

	require.Len(t, post.Variants, 1)
	video := post.Variants[0]
	assert.Equal(t, "Video", video.Tag)
	key, tag, ok := video.Schema.DiscriminatorKeyAndValue()
	require.True(t, ok)
	assert.Equal(t, "kind", key)
	assert.Equal(t, "Video", tag)
	assert.NotNil(t, video.Schema.Path("duration"))

	v := user.Schema.Virtual("posts")
	require.NotNil(t, v)
	assert.Equal(t, "Post", v.Ref.Name)
	assert.Equal(t, "author", v.ForeignField.Name)
	assert.Equal(t, int64(5), v.Options.Limit)
	assert.Len(t, v.Options.Sort, 1)
	assert.False(t, v.JustOne)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(p, []byte(definitions), 0o644))
	defs, err := LoadFile(p)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("models:\n  X:\n    paths:\n      a: {type: weird}\n"))
	require.Error(t, err)
}
