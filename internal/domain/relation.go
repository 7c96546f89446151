package domain

// RelationKind describes the logical constraint between two market outcomes.
type RelationKind string

const (
	// RelationSubset means A occurring implies B occurring, so P(A) <= P(B).
	RelationSubset RelationKind = "subset"
	// RelationDisjoint means A and B cannot both occur, so P(A) + P(B) <= 1.
	RelationDisjoint RelationKind = "disjoint"
	// RelationComplement means exactly one of A and B occurs, so P(A) + P(B) = 1.
	RelationComplement RelationKind = "complement"
	// RelationIdentical means A and B settle the same way, so P(A) = P(B).
	RelationIdentical RelationKind = "identical"
)

// Relationship is a fact between two markets, immutable for a graph epoch.
// Subset is directional (A is the stricter market); the other kinds are
// symmetric.
type Relationship struct {
	A      string
	B      string
	Kind   RelationKind
	Reason string
}

// PairKey returns the canonical ordered key for a market pair, used for
// opportunity supersession and pair freezing.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
