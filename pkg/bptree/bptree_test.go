package bptree

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func openTree(t testing.TB, opts ...Option) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	tree, err := Open(path, opts...)
	require.NoError(t, err, "Open failed")
	t.Cleanup(func() { tree.Close() })
	return tree
}

func key(i int) string {
	return fmt.Sprintf("key%05d", i)
}

func TestBasicOperations(t *testing.T) {
	tree := openTree(t)

	require.NoError(t, tree.Insert("alice", 1))
	require.NoError(t, tree.Insert("bob", 2))

	values, err := tree.Find("alice")
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, values)

	values, err = tree.Find("bob")
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, values)

	values, err = tree.Find("carol")
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.NotNil(t, values, "no match is an empty slice")
}

func TestScenarios(t *testing.T) {
	type op struct {
		cmd   string
		key   string
		value int32
	}
	tests := []struct {
		name string
		ops  []op
		find string
		want []int32
	}{
		{
			name: "single value",
			ops:  []op{{"insert", "alice", 1}, {"insert", "bob", 2}},
			find: "alice",
			want: []int32{1},
		},
		{
			name: "duplicate key sorted by value",
			ops:  []op{{"insert", "x", 5}, {"insert", "x", 3}},
			find: "x",
			want: []int32{3, 5},
		},
		{
			name: "empty tree",
			find: "nope",
			want: []int32{},
		},
		{
			name: "insert then delete",
			ops:  []op{{"insert", "k", 1}, {"delete", "k", 1}},
			find: "k",
			want: []int32{},
		},
		{
			name: "delete missing value",
			ops:  []op{{"insert", "k", 1}, {"delete", "k", 99}},
			find: "k",
			want: []int32{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := openTree(t, WithBackend(BackendMemory))
			for _, o := range tt.ops {
				switch o.cmd {
				case "insert":
					require.NoError(t, tree.Insert(o.key, o.value))
				case "delete":
					_, err := tree.Delete(o.key, o.value)
					require.NoError(t, err)
				}
			}
			values, err := tree.Find(tt.find)
			require.NoError(t, err)
			assert.Equal(t, tt.want, values)
		})
	}
}

func TestRootSplit(t *testing.T) {
	tree := openTree(t)

	for i := 0; i <= Order; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i)), "Insert failed at %d", i)
	}

	for i := 0; i <= Order; i++ {
		values, err := tree.Find(key(i))
		require.NoError(t, err)
		assert.Equal(t, []int32{int32(i)}, values, "key %s", key(i))
	}

	root, err := tree.pager.ReadNode(tree.pager.Root())
	require.NoError(t, err)
	require.False(t, root.Leaf, "root should be internal after a split")
	require.Equal(t, 1, root.Count())

	// Separator splits the children: left < sep <= right.
	sep := root.Entries[0]
	left, err := tree.pager.ReadNode(root.Children[0])
	require.NoError(t, err)
	right, err := tree.pager.ReadNode(root.Children[1])
	require.NoError(t, err)

	assert.Equal(t, Order/2, left.Count())
	assert.Equal(t, Order/2+1, right.Count())
	for _, e := range left.Entries {
		assert.True(t, e.Less(sep))
	}
	for _, e := range right.Entries {
		assert.False(t, e.Less(sep))
	}
	assert.Equal(t, sep, right.Entries[0])
	assert.Equal(t, root.Children[1], left.Next)

	require.NoError(t, tree.Verify())
}

func TestLargeInsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	tree := openTree(t)

	n := 20000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i*10)), "Insert failed at %d", i)
	}

	for i := 0; i < n; i++ {
		values, err := tree.Find(key(i))
		require.NoError(t, err)
		require.Equal(t, []int32{int32(i * 10)}, values, "key %d", i)
	}

	count, err := tree.Count()
	require.NoError(t, err)
	assert.Equal(t, n, count)

	st, err := tree.Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.Height, 3)
	assert.Equal(t, n, st.Entries)

	require.NoError(t, tree.Verify())
}

func TestDuplicateKeys(t *testing.T) {
	tree := openTree(t, WithBackend(BackendMemory))

	// Enough values under one key to spread it across several leaves.
	n := 3 * Order
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, v := range perm {
		require.NoError(t, tree.Insert("dup", int32(v)))
	}
	require.NoError(t, tree.Insert("before", 1))
	require.NoError(t, tree.Insert("later", 1))

	values, err := tree.Find("dup")
	require.NoError(t, err)
	require.Len(t, values, n)
	for i, v := range values {
		assert.Equal(t, int32(i), v)
	}

	require.NoError(t, tree.Verify())
}

func TestInsertExistingPair(t *testing.T) {
	tree := openTree(t, WithBackend(BackendMemory))

	require.NoError(t, tree.Insert("k", 1))
	next := tree.pager.NextID()
	require.NoError(t, tree.Insert("k", 1))

	values, err := tree.Find("k")
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, values)
	assert.Equal(t, next, tree.pager.NextID())
}

func TestDelete(t *testing.T) {
	tree := openTree(t)

	for i := 1; i <= 10; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i*10)))
	}

	deleted, err := tree.Delete(key(5), 50)
	require.NoError(t, err)
	assert.True(t, deleted, "first delete should remove the pair")

	deleted, err = tree.Delete(key(5), 50)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete should be a no-op")

	values, err := tree.Find(key(5))
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = tree.Find(key(4))
	require.NoError(t, err)
	assert.Equal(t, []int32{40}, values)
	values, err = tree.Find(key(6))
	require.NoError(t, err)
	assert.Equal(t, []int32{60}, values)
}

func TestDeleteOneOfMany(t *testing.T) {
	tree := openTree(t, WithBackend(BackendMemory))

	for _, v := range []int32{7, 3, 5} {
		require.NoError(t, tree.Insert("k", v))
	}

	deleted, err := tree.Delete("k", 5)
	require.NoError(t, err)
	assert.True(t, deleted)

	values, err := tree.Find("k")
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 7}, values)
}

func TestLargeDelete(t *testing.T) {
	tree := openTree(t)

	n := 1000
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i)))
	}
	before := tree.pager.NextID()

	for i := n - 1; i >= 0; i-- {
		deleted, err := tree.Delete(key(i), int32(i))
		require.NoError(t, err)
		require.True(t, deleted, "Delete(%d) should return true", i)
	}

	count, err := tree.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < n; i++ {
		values, err := tree.Find(key(i))
		require.NoError(t, err)
		require.Empty(t, values, "key %d should not be found after delete", i)
	}

	// Nothing is freed or merged.
	assert.Equal(t, before, tree.pager.NextID())
	require.NoError(t, tree.Verify())
}

func TestEmptyLeavesStayInChain(t *testing.T) {
	tree := openTree(t, WithBackend(BackendMemory))

	for i := 0; i <= Order; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i)))
	}
	for i := 0; i < Order/2; i++ {
		deleted, err := tree.Delete(key(i), int32(i))
		require.NoError(t, err)
		require.True(t, deleted)
	}

	st, err := tree.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Leaves)
	assert.Equal(t, 1, st.EmptyLeaves)
	assert.Equal(t, Order/2+1, st.Entries)

	leftmost, leaf, err := tree.leftmost()
	require.NoError(t, err)
	assert.Equal(t, 0, leaf.Count())
	assert.NotEqual(t, NodeID(-1), leaf.Next, "empty leaf keeps its link")
	assert.NotEqual(t, tree.pager.Root(), leftmost)

	values, err := tree.Find(key(Order / 2))
	require.NoError(t, err)
	assert.Equal(t, []int32{int32(Order / 2)}, values)

	// The empty range takes inserts again.
	require.NoError(t, tree.Insert(key(3), 33))
	values, err = tree.Find(key(3))
	require.NoError(t, err)
	assert.Equal(t, []int32{33}, values)

	require.NoError(t, tree.Verify())
}

func TestRandomAgainstReference(t *testing.T) {
	tree := openTree(t)
	ref := make(map[string]map[int32]bool)
	rng := rand.New(rand.NewSource(42))

	ops := 8000
	if testing.Short() {
		ops = 2000
	}
	for i := 0; i < ops; i++ {
		k := fmt.Sprintf("k%03d", rng.Intn(200))
		v := int32(rng.Intn(20) - 10)

		if rng.Intn(3) == 0 {
			deleted, err := tree.Delete(k, v)
			require.NoError(t, err)
			assert.Equal(t, ref[k][v], deleted, "delete %s %d", k, v)
			delete(ref[k], v)
			continue
		}

		require.NoError(t, tree.Insert(k, v))
		if ref[k] == nil {
			ref[k] = make(map[int32]bool)
		}
		ref[k][v] = true
	}

	total := 0
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%03d", i)
		want := []int32{}
		for v := range ref[k] {
			want = append(want, v)
		}
		sort.Slice(want, func(a, b int) bool { return want[a] < want[b] })
		total += len(want)

		got, err := tree.Find(k)
		require.NoError(t, err)
		require.Equal(t, want, got, "key %s", k)
	}

	count, err := tree.Count()
	require.NoError(t, err)
	assert.Equal(t, total, count)

	require.NoError(t, tree.Verify())
}

func TestScan(t *testing.T) {
	tree := openTree(t)

	for i := 1; i <= 300; i++ {
		require.NoError(t, tree.Insert(key(i), int32(i)))
	}

	var got []string
	err := tree.Scan(key(30), key(50), func(e Entry) bool {
		got = append(got, e.Key)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 21) // 30 to 50 inclusive
	for i, k := range got {
		assert.Equal(t, key(30+i), k)
	}

	count := 0
	err = tree.Scan(key(1), key(300), func(e Entry) bool {
		count++
		return count < 10
	})
	require.NoError(t, err)
	assert.Equal(t, 10, count, "scan should stop when fn returns false")

	count = 0
	err = tree.Scan(key(50), key(30), func(e Entry) bool {
		count++
		return true
	})
	require.NoError(t, err)
	assert.Zero(t, count, "inverted range is empty")
}

func TestPersistence(t *testing.T) {
	for _, backend := range []Backend{BackendFile, BackendMmap} {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")

			tree1, err := Open(path, WithBackend(backend))
			require.NoError(t, err)
			for i := 0; i < 1000; i++ {
				require.NoError(t, tree1.Insert(key(i), int32(i*10)))
			}
			require.NoError(t, tree1.Sync())
			digest, err := tree1.Digest()
			require.NoError(t, err)
			require.NoError(t, tree1.Close())

			tree2, err := Open(path, WithBackend(backend))
			require.NoError(t, err, "Reopen failed")
			defer tree2.Close()

			for i := 0; i < 1000; i++ {
				values, err := tree2.Find(key(i))
				require.NoError(t, err)
				require.Equal(t, []int32{int32(i * 10)}, values, "key %d after reopen", i)
			}

			again, err := tree2.Digest()
			require.NoError(t, err)
			assert.Equal(t, digest, again)
			require.NoError(t, tree2.Verify())
		})
	}
}

func TestBackendsInterchangeable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	tree1, err := Open(path, WithBackend(BackendFile))
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tree1.Insert(key(i), int32(i)))
	}
	require.NoError(t, tree1.Close())

	tree2, err := Open(path, WithBackend(BackendMmap))
	require.NoError(t, err)
	defer tree2.Close()

	count, err := tree2.Count()
	require.NoError(t, err)
	assert.Equal(t, 500, count)
	require.NoError(t, tree2.Insert(key(500), 500))
	require.NoError(t, tree2.Verify())
}

func TestDigest(t *testing.T) {
	a := openTree(t, WithBackend(BackendMemory))
	b := openTree(t)

	for i := 0; i < 400; i++ {
		require.NoError(t, a.Insert(key(i), int32(i)))
	}
	for i := 399; i >= 0; i-- {
		require.NoError(t, b.Insert(key(i), int32(i)))
	}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db, "same pairs, same digest")

	_, err = b.Delete(key(7), 7)
	require.NoError(t, err)
	db, err = b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestKeyTruncation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tree := openTree(t, WithBackend(BackendMemory), WithLogger(zap.New(core)))

	long := strings.Repeat("a", 100)
	require.NoError(t, tree.Insert(long, 1))
	assert.Equal(t, 1, logs.FilterMessage("key truncated").Len())

	values, err := tree.Find(long)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, values)

	values, err = tree.Find(long[:MaxKeyLen])
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, values, "truncated key is the stored key")

	deleted, err := tree.Delete(long+"tail", 1)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestEmptyTree(t *testing.T) {
	tree := openTree(t)

	values, err := tree.Find("x")
	require.NoError(t, err)
	assert.Empty(t, values)

	deleted, err := tree.Delete("x", 1)
	require.NoError(t, err)
	assert.False(t, deleted)

	count, err := tree.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	st, err := tree.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Root: 0, Height: 1, Nodes: 1, Leaves: 1, EmptyLeaves: 1, Allocated: 1}, st)

	require.NoError(t, tree.Verify())
}

func TestClosed(t *testing.T) {
	tree, err := Open("", WithBackend(BackendMemory))
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	assert.True(t, errors.Is(tree.Insert("k", 1), ErrClosed))
	_, err = tree.Find("k")
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = tree.Delete("k", 1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestUnknownBackend(t *testing.T) {
	_, err := Open("x.db", WithBackend("tape"))
	assert.Error(t, err)
}

func BenchmarkInsert(b *testing.B) {
	tree := openTree(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Insert(key(i%100000), int32(i))
	}
}

func BenchmarkFind(b *testing.B) {
	tree := openTree(b)
	for i := 0; i < 10000; i++ {
		tree.Insert(key(i), int32(i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Find(key(i % 10000))
	}
}
