package models

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_EffectiveMethod(t *testing.T) {
	assert.Equal(t, http.MethodGet, (&Request{}).EffectiveMethod())
	assert.Equal(t, http.MethodPost, (&Request{Method: "post"}).EffectiveMethod())
}

func TestRequest_Fingerprint(t *testing.T) {
	base := NewRequest("https://example.com/a?b=2&a=1")

	t.Run("stable across retry state and meta", func(t *testing.T) {
		other := base.Clone()
		other.RetryCount = 3
		other.Priority = 7
		other.DontFilter = true
		other.Meta = map[string]any{MetaRetryReason: "page_object_retry"}
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("canonical URL equivalence", func(t *testing.T) {
		same := NewRequest("HTTPS://EXAMPLE.com:443/a?a=1&b=2#top")
		assert.Equal(t, base.Fingerprint(), same.Fingerprint())
	})

	t.Run("method changes fingerprint", func(t *testing.T) {
		post := base.Clone()
		post.Method = http.MethodPost
		assert.NotEqual(t, base.Fingerprint(), post.Fingerprint())
	})

	t.Run("body changes fingerprint", func(t *testing.T) {
		withBody := base.Clone()
		withBody.Body = []byte("x=1")
		assert.NotEqual(t, base.Fingerprint(), withBody.Fingerprint())
	})

	t.Run("query changes fingerprint", func(t *testing.T) {
		assert.NotEqual(t, base.Fingerprint(), NewRequest("https://example.com/a?a=2").Fingerprint())
	})
}

func TestRequest_CloneIsDeep(t *testing.T) {
	orig := &Request{
		URL:    "https://example.com",
		Header: http.Header{"X-Test": []string{"1"}},
		Body:   []byte("body"),
		Meta:   map[string]any{"k": "v"},
	}
	clone := orig.Clone()
	require.NotSame(t, orig, clone)

	clone.Meta["k"] = "changed"
	clone.Header.Set("X-Test", "2")
	clone.Body[0] = 'B'

	assert.Equal(t, "v", orig.Meta["k"])
	assert.Equal(t, "1", orig.Header.Get("X-Test"))
	assert.Equal(t, "body", string(orig.Body))
}

func TestRequest_MetaInt(t *testing.T) {
	r := &Request{Meta: map[string]any{"a": 3, "b": int64(4), "c": float64(5), "d": "6"}}

	v, ok := r.MetaInt("a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	v, ok = r.MetaInt("b")
	assert.True(t, ok)
	assert.Equal(t, 4, v)
	v, ok = r.MetaInt("c")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	_, ok = r.MetaInt("d")
	assert.False(t, ok)
	_, ok = (&Request{}).MetaInt("a")
	assert.False(t, ok)
}

func TestStorableMeta(t *testing.T) {
	assert.Nil(t, StorableMeta(nil))
	assert.Nil(t, StorableMeta(map[string]any{"ch": make(chan int)}))

	got := StorableMeta(map[string]any{
		MetaMaxRetryTimes: 5,
		"session":         "abc",
		"fn":              func() {},
	})
	assert.Equal(t, map[string]any{MetaMaxRetryTimes: 5, "session": "abc"}, got)
}
