// Package grouper partitions the full ingredient set into clusters of
// candidate duplicates: an exact pass over normalized keys, then a fuzzy
// pass that unions near-identical variants.
package grouper

import (
	"sort"

	"go.uber.org/zap"

	"larder/internal/models"
	"larder/internal/normalize"
	"larder/internal/similarity"
)

// Grouper scans ingredients and emits duplicate groups. It never emits
// singletons. Runs offline; the fuzzy pass is O(n²) over same-letter
// buckets, which is acceptable at catalog sizes.
type Grouper struct {
	keyer     normalize.Keyer
	threshold float64
	log       *zap.Logger
}

// New creates a Grouper. A threshold of 0 falls back to the default.
func New(keyer normalize.Keyer, threshold float64, log *zap.Logger) *Grouper {
	if threshold <= 0 || threshold > 1 {
		threshold = similarity.DefaultThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Grouper{keyer: keyer, threshold: threshold, log: log}
}

// Groups clusters the given ingredients. Exact duplicates (same normalized
// key) come first, ordered by key; fuzzy clusters follow, ordered by the
// lowest member id. Output is deterministic for a given input set.
func (g *Grouper) Groups(ingredients []models.Ingredient) []models.DuplicateGroup {
	members := make([]models.GroupMember, len(ingredients))
	keys := make([]string, len(ingredients))
	for i, ing := range ingredients {
		members[i] = models.GroupMember{
			ID:          ing.ID,
			Name:        ing.Name,
			DisplayName: ing.DisplayName,
			Category:    ing.Category,
			UsageCount:  ing.UsageCount,
		}
		keys[i] = g.keyer.Key(ing.Name)
	}

	groups, leftover := g.exactPass(members, keys)
	groups = append(groups, g.variantPass(leftover)...)

	g.log.Info("grouping complete",
		zap.Int("ingredients", len(ingredients)),
		zap.Int("groups", len(groups)),
	)
	return groups
}

// exactPass groups members by normalized key. Members whose key is unique
// (or empty) are returned for the variant pass.
func (g *Grouper) exactPass(members []models.GroupMember, keys []string) ([]models.DuplicateGroup, []indexed) {
	byKey := make(map[string][]int)
	for i, key := range keys {
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], i)
	}

	clusteredKeys := make([]string, 0)
	for key, idx := range byKey {
		if len(idx) >= 2 {
			clusteredKeys = append(clusteredKeys, key)
		}
	}
	sort.Strings(clusteredKeys)

	clustered := make(map[int]bool)
	groups := make([]models.DuplicateGroup, 0, len(clusteredKeys))
	for _, key := range clusteredKeys {
		group := models.DuplicateGroup{Key: key}
		for _, i := range byKey[key] {
			group.Members = append(group.Members, members[i])
			clustered[i] = true
		}
		sortMembers(group.Members)
		groups = append(groups, group)
	}

	var leftover []indexed
	for i, m := range members {
		if !clustered[i] && keys[i] != "" {
			leftover = append(leftover, indexed{member: m, key: keys[i]})
		}
	}
	return groups, leftover
}

type indexed struct {
	member models.GroupMember
	key    string
}

// variantPass unions members whose composite similarity meets the
// threshold, using connected components so that three-way variant chains
// end up in one group. Pairs are only scored within same-first-letter
// buckets; a variant pair differing in its first letter is vanishingly
// rare and not worth the quadratic blowup.
func (g *Grouper) variantPass(candidates []indexed) []models.DuplicateGroup {
	if len(candidates) < 2 {
		return nil
	}

	buckets := make(map[byte][]int)
	for i, c := range candidates {
		buckets[c.key[0]] = append(buckets[c.key[0]], i)
	}

	uf := newUnionFind(len(candidates))
	for _, bucket := range buckets {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := candidates[bucket[i]], candidates[bucket[j]]
				if similarity.Ingredient(a.member, b.member) >= g.threshold {
					uf.union(bucket[i], bucket[j])
				}
			}
		}
	}

	components := make(map[int][]int)
	for i := range candidates {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	roots := make([]int, 0, len(components))
	for root, idx := range components {
		if len(idx) >= 2 {
			roots = append(roots, root)
		}
	}
	// Order clusters by their lowest member id for stable output.
	sort.Slice(roots, func(i, j int) bool {
		return lowestID(candidates, components[roots[i]]) < lowestID(candidates, components[roots[j]])
	})

	groups := make([]models.DuplicateGroup, 0, len(roots))
	for _, root := range roots {
		idx := components[root]
		group := models.DuplicateGroup{Fuzzy: true}
		for _, i := range idx {
			group.Members = append(group.Members, candidates[i].member)
		}
		sortMembers(group.Members)
		// The shortest key stands in for the cluster; fuzzy members
		// have no single shared key.
		group.Key = candidates[idx[0]].key
		for _, i := range idx[1:] {
			if len(candidates[i].key) < len(group.Key) {
				group.Key = candidates[i].key
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func lowestID(candidates []indexed, idx []int) uint {
	lowest := candidates[idx[0]].member.ID
	for _, i := range idx[1:] {
		if candidates[i].member.ID < lowest {
			lowest = candidates[i].member.ID
		}
	}
	return lowest
}

// sortMembers orders by usage descending, then id ascending, so the
// likely canonical member leads the list.
func sortMembers(members []models.GroupMember) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].UsageCount != members[j].UsageCount {
			return members[i].UsageCount > members[j].UsageCount
		}
		return members[i].ID < members[j].ID
	})
}

// unionFind is a plain disjoint-set with path compression
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[rb] = ra
	}
}
