package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "empty key",
			key:  "",
			want: EmptyKeyID,
		},
		{
			name: "sha256 hex",
			key:  "abc",
			want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HashKey(tt.key))
		})
	}
}

func TestHashKeyProperties(t *testing.T) {
	t.Parallel()

	a := HashKey("https://example.com/a.png")
	assert.Equal(t, a, HashKey("https://example.com/a.png"), "deterministic")
	assert.NotEqual(t, a, HashKey("https://example.com/b.png"))
	assert.NotEqual(t, a, HashKey("https://EXAMPLE.com/a.png"), "keys are not normalized")
	assert.Len(t, a, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", a)
	assert.Len(t, EmptyKeyID, 64)
}

func TestRawKeyIsDistinct(t *testing.T) {
	t.Parallel()

	key := "https://example.com/anim.gif"
	assert.Equal(t, "file_"+key, RawKey(key))
	assert.NotEqual(t, HashKey(key), HashKey(RawKey(key)))
}
