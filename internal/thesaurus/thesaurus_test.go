package thesaurus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
groups:
  - [car, automobile, motor_vehicle]
  - [capital, working_capital]
synonyms:
  france: [french_republic]
`

func TestParseGroupsAreSymmetric(t *testing.T) {
	th, err := Parse([]byte(sampleFile))
	require.NoError(t, err)

	syns, err := th.SynonymsOf(context.Background(), "Automobile")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"car", "motor_vehicle"}, syns)

	syns, err = th.SynonymsOf(context.Background(), "france")
	require.NoError(t, err)
	assert.Equal(t, []string{"french_republic"}, syns)

	syns, err = th.SynonymsOf(context.Background(), "french_republic")
	require.NoError(t, err)
	assert.Empty(t, syns)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("groups: [unterminated"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	th, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, th.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticReturnsCopy(t *testing.T) {
	th := NewStatic(map[string][]string{"big": {"large"}})
	syns, _ := th.SynonymsOf(context.Background(), "big")
	syns[0] = "mutated"

	again, _ := th.SynonymsOf(context.Background(), "big")
	assert.Equal(t, []string{"large"}, again)
}

type fakeSetStore struct {
	sets map[string][]string
	err  error
	keys []string
}

func (f *fakeSetStore) Members(_ context.Context, key string) ([]string, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.sets[key], nil
}

func (f *fakeSetStore) AddMembers(_ context.Context, key string, members ...string) error {
	if f.err != nil {
		return f.err
	}
	if f.sets == nil {
		f.sets = make(map[string][]string)
	}
	f.sets[key] = append(f.sets[key], members...)
	return nil
}

func TestRedisThesaurus(t *testing.T) {
	store := &fakeSetStore{sets: map[string][]string{"synonyms:quick": {"fast", "speedy"}}}
	th := NewRedis(store)

	syns, err := th.SynonymsOf(context.Background(), " Quick ")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "speedy"}, syns)
	assert.Equal(t, []string{"synonyms:quick"}, store.keys)
}

func TestRedisThesaurusError(t *testing.T) {
	th := NewRedis(&fakeSetStore{err: errors.New("connection reset")})
	_, err := th.SynonymsOf(context.Background(), "quick")
	assert.ErrorContains(t, err, "connection reset")
}

func TestRedisImportRoundTrip(t *testing.T) {
	src, err := Parse([]byte(sampleFile))
	require.NoError(t, err)

	store := &fakeSetStore{}
	th := NewRedis(store)

	n, err := th.Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src.Len(), n)

	syns, err := th.SynonymsOf(context.Background(), "car")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"automobile", "motor_vehicle"}, syns)
}

func TestRedisImportError(t *testing.T) {
	src := NewStatic(map[string][]string{"big": {"large"}})
	_, err := NewRedis(&fakeSetStore{err: errors.New("read only replica")}).Import(context.Background(), src)
	assert.ErrorContains(t, err, "read only replica")
}
