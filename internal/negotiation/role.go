package negotiation

import "fmt"

// Role is the fixed tie-break role of a peer. Exactly one side of a session
// must be Polite.
type Role uint8

const (
	// Impolite peers win every collision: colliding remote offers are ignored.
	Impolite Role = iota
	// Polite peers yield: their own offer is rolled back and the remote one answered.
	Polite
)

func (r Role) String() string {
	if r == Polite {
		return "polite"
	}
	return "impolite"
}

// ParseRole converts "polite" or "impolite" into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "polite":
		return Polite, nil
	case "impolite":
		return Impolite, nil
	}
	return Impolite, fmt.Errorf("unknown role %q (want polite or impolite)", s)
}

// CollisionPolicy selects how a polite peer accepts a colliding remote offer.
type CollisionPolicy uint8

const (
	// PolicyRollback rolls back the pending local offer before applying the
	// remote one. Safe against any transport that supports rollback.
	PolicyRollback CollisionPolicy = iota
	// PolicyOverwrite clears the in-flight flag and applies the remote offer
	// directly, for transports that replace a pending local offer implicitly.
	PolicyOverwrite
)

func (p CollisionPolicy) String() string {
	if p == PolicyOverwrite {
		return "overwrite"
	}
	return "rollback"
}

// ParsePolicy converts "rollback" or "overwrite" into a CollisionPolicy.
func ParsePolicy(s string) (CollisionPolicy, error) {
	switch s {
	case "rollback", "":
		return PolicyRollback, nil
	case "overwrite":
		return PolicyOverwrite, nil
	}
	return PolicyRollback, fmt.Errorf("unknown collision policy %q (want rollback or overwrite)", s)
}
