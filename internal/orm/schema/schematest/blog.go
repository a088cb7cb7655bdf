// Package schematest provides the schema fixture shared by store and API tests.
package schematest

import (
	"testing"

	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/stretchr/testify/require"
)

// BlogYAML declares a small blog: users with an optional profile, posts with
// comments and tags (tags cannot be deleted), plus two models the API cannot
// expose (no id, compound id).
const BlogYAML = `
models:
  - name: User
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: email, type: string, unique: true, validate: email}
      - {name: name, type: string, optional: true}
      - {name: role, type: enum, values: [USER, ADMIN], default: USER}
      - {name: posts, model: Post, array: true, back_link: author}
      - {name: profile, model: Profile, optional: true, back_link: user}
      - {name: settings, model: Setting, array: true, back_link: user}
  - name: Profile
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: gender, type: string}
      - {name: userId, type: int, unique: true}
      - {name: user, model: User, foreign_key: userId}
  - name: Post
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: title, type: string, validate: "min=1"}
      - {name: viewCount, type: int, default: "0"}
      - {name: published, type: bool, default: "false"}
      - {name: labels, type: string, array: true, default: "[]"}
      - {name: price, type: decimal, optional: true}
      - {name: createdAt, type: timestamp, default: now}
      - {name: authorId, type: int, optional: true}
      - {name: author, model: User, foreign_key: authorId, optional: true}
      - {name: comments, model: Comment, array: true, back_link: post}
      - {name: tags, model: Tag, array: true, through: {table: post_tags, source: post_id, target: tag_id}}
  - name: Comment
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: content, type: string}
      - {name: postId, type: int}
      - {name: post, model: Post, foreign_key: postId}
  - name: Tag
    deny: [delete]
    fields:
      - {name: id, type: string, id: true}
      - {name: posts, model: Post, array: true, back_link: tags}
  - name: Setting
    fields:
      - {name: key, type: string}
      - {name: userId, type: int, optional: true}
      - {name: user, model: User, foreign_key: userId, optional: true}
  - name: Membership
    fields:
      - {name: userId, type: int, id: true}
      - {name: groupId, type: int, id: true}
`

// Blog parses BlogYAML
func Blog(t testing.TB) *schema.Meta {
	t.Helper()
	meta, err := schema.Parse([]byte(BlogYAML))
	require.NoError(t, err)
	return meta
}
