package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blogTypes() []*EntityType {
	return []*EntityType{
		{
			Name: "Post",
			Attributes: map[string]*Attribute{
				"title": {Name: "title", Kind: KindString},
				"rank":  {Name: "rank", Kind: KindInt},
			},
			Associations: map[string]*Association{
				"author": {Name: "author", Direction: Owning, Target: "User"},
				"comments": {
					Name: "comments", Direction: Owned, Collection: true,
					Target: "Comment", Inverse: "post", OrderAttr: "rank",
					OnRelease: CascadeDelete,
				},
				"tags": {
					Name: "tags", Direction: Owned, Collection: true,
					Target: "Tag", Inverse: "post",
					Through: "PostTag", ThroughTarget: "tag",
				},
			},
		},
		{
			Name: "Comment",
			Attributes: map[string]*Attribute{
				"body": {Name: "body", Kind: KindString},
				"rank": {Name: "rank", Kind: KindInt},
			},
			Associations: map[string]*Association{
				"post": {Name: "post", Direction: Owning, Target: "Post"},
			},
		},
		{
			Name: "User",
			Attributes: map[string]*Attribute{
				"name": {Name: "name", Kind: KindString},
			},
		},
		{
			Name: "Tag",
			Attributes: map[string]*Attribute{
				"name": {Name: "name", Kind: KindString},
			},
		},
		{
			Name: "PostTag",
			Associations: map[string]*Association{
				"post": {Name: "post", Direction: Owning, Target: "Post"},
				"tag":  {Name: "tag", Direction: Owning, Target: "Tag"},
			},
		},
	}
}

func TestNewRegistryValid(t *testing.T) {
	reg, err := NewRegistry(blogTypes()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"Comment", "Post", "PostTag", "Tag", "User"}, reg.TypeNames())

	post, ok := reg.Type("Post")
	require.True(t, ok)
	comments, ok := post.Association("comments")
	require.True(t, ok)
	assert.True(t, comments.Ordered())
	assert.False(t, comments.Indirect())
	assert.Equal(t, "Comment", comments.MemberType())

	tags, _ := post.Association("tags")
	assert.True(t, tags.Indirect())
	assert.Equal(t, "PostTag", tags.MemberType())
	// Unspecified policy defaults to detach.
	assert.Equal(t, CascadeDetach, tags.OnRelease)
}

func TestNewRegistryUnknownTarget(t *testing.T) {
	_, err := NewRegistry(&EntityType{
		Name: "Post",
		Associations: map[string]*Association{
			"author": {Name: "author", Direction: Owning, Target: "Ghost"},
		},
	})
	assert.ErrorContains(t, err, "unknown target")
}

func TestNewRegistryOwnedRequiresInverse(t *testing.T) {
	_, err := NewRegistry(
		&EntityType{
			Name: "Post",
			Associations: map[string]*Association{
				"comments": {Name: "comments", Direction: Owned, Collection: true, Target: "Comment"},
			},
		},
		&EntityType{Name: "Comment"},
	)
	assert.ErrorContains(t, err, "requires an inverse")
}

func TestNewRegistryInverseMustPointBack(t *testing.T) {
	_, err := NewRegistry(
		&EntityType{
			Name: "Post",
			Associations: map[string]*Association{
				"comments": {
					Name: "comments", Direction: Owned, Collection: true,
					Target: "Comment", Inverse: "thread",
				},
			},
		},
		&EntityType{
			Name: "Comment",
			Associations: map[string]*Association{
				"thread": {Name: "thread", Direction: Owning, Target: "Thread"},
			},
		},
		&EntityType{Name: "Thread"},
	)
	assert.ErrorContains(t, err, "points at")
}

func TestNewRegistryOrderAttrMustBeInt(t *testing.T) {
	_, err := NewRegistry(
		&EntityType{
			Name: "Post",
			Associations: map[string]*Association{
				"comments": {
					Name: "comments", Direction: Owned, Collection: true,
					Target: "Comment", Inverse: "post", OrderAttr: "body",
				},
			},
		},
		&EntityType{
			Name: "Comment",
			Attributes: map[string]*Attribute{
				"body": {Name: "body", Kind: KindString},
			},
			Associations: map[string]*Association{
				"post": {Name: "post", Direction: Owning, Target: "Post"},
			},
		},
	)
	assert.ErrorContains(t, err, "must be an int attribute")
}

func TestNewRegistryIndirectMustBeOwnedCollection(t *testing.T) {
	types := blogTypes()
	post := types[0]
	post.Associations["tags"].Direction = Owning
	_, err := NewRegistry(types...)
	assert.ErrorContains(t, err, "must be owned collections")
}

func TestOwnedCounterparts(t *testing.T) {
	reg, err := NewRegistry(blogTypes()...)
	require.NoError(t, err)

	edges := reg.OwnedCounterparts("Comment", "post")
	require.Len(t, edges, 1)
	assert.Equal(t, "Post", edges[0].Owner.Name)
	assert.Equal(t, "comments", edges[0].Assoc.Name)

	assert.Empty(t, reg.OwnedCounterparts("Comment", "author"))
}

func TestOwningReferrers(t *testing.T) {
	reg, err := NewRegistry(blogTypes()...)
	require.NoError(t, err)

	edges := reg.OwningReferrers("User")
	require.Len(t, edges, 1)
	assert.Equal(t, "Post", edges[0].Owner.Name)
	assert.Equal(t, "author", edges[0].Assoc.Name)
}
