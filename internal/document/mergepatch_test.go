package document

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePatch(t *testing.T) {
	cases := []struct {
		name   string
		target string
		patch  string
		want   string
	}{
		{"replace scalar", `{"status":"draft","name":"Luna"}`, `{"status":"active"}`, `{"status":"active","name":"Luna"}`},
		{"null deletes", `{"a":1,"b":2}`, `{"a":null}`, `{"b":2}`},
		{"null on missing key", `{"a":1}`, `{"z":null}`, `{"a":1}`},
		{"nested merge", `{"sync":{"status":"pending","serverId":4}}`, `{"sync":{"status":"synced"}}`, `{"sync":{"status":"synced","serverId":4}}`},
		{"nested delete", `{"sync":{"status":"pending","serverId":4}}`, `{"sync":{"serverId":null}}`, `{"sync":{"status":"pending"}}`},
		{"array replaced wholesale", `{"mood":["a","b","c"]}`, `{"mood":["d"]}`, `{"mood":["d"]}`},
		{"object replaces scalar", `{"a":"x"}`, `{"a":{"b":1,"c":null}}`, `{"a":{"b":1}}`},
		{"scalar replaces object", `{"a":{"b":1}}`, `{"a":5}`, `{"a":5}`},
		{"new key appended", `{"a":1}`, `{"b":2}`, `{"a":1,"b":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := mustParse(t, tc.target)
			before, err := json.Marshal(target)
			require.NoError(t, err)

			got := MergeDoc(target, mustParse(t, tc.patch))
			assert.True(t, Equal(mustParse(t, tc.want), got), "got %v", got.ToMap())

			after, err := json.Marshal(target)
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after), "target must not be mutated")
		})
	}
}

func TestMergePatchIsIdempotent(t *testing.T) {
	target := mustParse(t, `{"name":"Luna","status":"draft","tags":["x"]}`)
	patch := mustParse(t, `{"status":"active","tags":["y","z"],"extra":{"k":null,"v":1}}`)

	once := MergeDoc(target, patch)
	twice := MergeDoc(once, patch)
	assert.True(t, Equal(once, twice))
}

func TestMergePatchNonObjectPatch(t *testing.T) {
	target := mustParse(t, `{"a":1}`)
	assert.Equal(t, []any{"x"}, MergePatch(target, []any{"x"}))
	assert.Equal(t, "s", MergePatch(target, "s"))
}
