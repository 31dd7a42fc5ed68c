// Package validation decides whether a proposed token transition
// is acceptable. Validate is pure: it reads only the proposal,
// and may be called from any number of goroutines.
package validation

import (
	"fmt"
	"strings"

	"tokenledger/errors"
	"tokenledger/math/checked"
	"tokenledger/token"
)

// ErrRejected is matched, through errors.Is, by every error
// returned by Validate.
var ErrRejected = errors.New("proposal rejected")

// Rule names. They are stable and may be matched by callers.
const (
	RuleIssueNoInputs      = "no inputs allowed on issue"
	RuleIssueOneOutput     = "exactly one output required"
	RuleIssuerNotOwner     = "issuer must not be owner"
	RuleAmountPositive     = "amount must be positive"
	RuleParticipants       = "issuer and owner must be participants"
	RuleIssuerSigns        = "only issuer must sign"
	RuleInputsNotEmpty     = "inputs must not be empty"
	RuleOutputsNotEmpty    = "outputs must not be empty"
	RuleIssuersConserved   = "issuers must be conserved"
	RuleAmountConserved    = "amount must be conserved per issuer"
	RuleNoOverflow         = "amount must not overflow"
	RuleOneInputOwner      = "input owner must be one"
	RuleNonNegative        = "amounts must be non-negative"
	RuleOwnerSigns         = "only owner must sign"
	RuleRedeemOutputsEmpty = "outputs must be empty"
	RuleOwnerIssuersSign   = "owner and issuers must sign"
)

// Violation is one failed rule.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) String() string { return v.Rule + ": " + v.Message }

// Rejection lists every rule a proposal failed, in rule order.
type Rejection struct {
	Kind       token.Kind
	Violations []Violation
}

func (r *Rejection) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s rejected", r.Kind)
	for i, v := range r.Violations {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(v.String())
	}
	return b.String()
}

// Unwrap makes ErrRejected visible to errors.Is.
func (r *Rejection) Unwrap() error { return ErrRejected }

// Violations returns the violations carried by err,
// or nil if err is not a rejection.
func Violations(err error) []Violation {
	r := rejection(err)
	if r == nil {
		return nil
	}
	return r.Violations
}

// HasRule reports whether err is a rejection that includes rule.
func HasRule(err error, rule string) bool {
	for _, v := range Violations(err) {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func rejection(err error) *Rejection {
	for err != nil {
		if r, ok := err.(*Rejection); ok {
			return r
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// checker accumulates violations for one proposal.
type checker struct {
	kind token.Kind
	vs   []Violation
}

func (c *checker) require(ok bool, rule, msg string, a ...interface{}) bool {
	if !ok {
		if len(a) > 0 {
			msg = fmt.Sprintf(msg, a...)
		}
		c.vs = append(c.vs, Violation{Rule: rule, Message: msg})
	}
	return ok
}

func (c *checker) err() error {
	if len(c.vs) == 0 {
		return nil
	}
	return &Rejection{Kind: c.kind, Violations: c.vs}
}

// Validate returns nil if p satisfies every rule of its kind.
// Otherwise it returns a *Rejection naming each failed rule. Validate panics if p.Kind is not one of
// token.Issue, token.Move or token.Redeem.
func Validate(p *token.Proposal) error {
	c := &checker{kind: p.Kind}
	switch p.Kind {
	case token.Issue:
		validateIssue(c, p)
	case token.Move:
		validateMove(c, p)
	case token.Redeem:
		validateRedeem(c, p)
	default:
		panic(fmt.Sprintf("validation: unknown proposal kind %d", uint8(p.Kind)))
	}
	return c.err()
}

func validateIssue(c *checker, p *token.Proposal) {
	c.require(len(p.Inputs) == 0, RuleIssueNoInputs, "No inputs should be consumed when issuing a token.")
	c.require(len(p.Outputs) == 1, RuleIssueOneOutput, "Only one output state should be created.")
	if len(p.Outputs) == 0 {
		return
	}

	out := p.Outputs[0]
	c.require(!out.Issuer.Same(out.Owner), RuleIssuerNotOwner, "The issuer and the owner cannot be the same entity.")
	c.require(out.Amount > 0, RuleAmountPositive, "The token value must be positive.")

	parts := out.Participants()
	c.require(
		len(parts) == 2 && parts[0].Key == out.Issuer.Key && parts[1].Key == out.Owner.Key &&
			!out.Issuer.Key.IsZero() && !out.Owner.Key.IsZero(),
		RuleParticipants, "The issuer and owner must be the only participants.",
	)
	c.require(sameKeys(p.SignerSet(), out.Issuer.Key), RuleIssuerSigns, "Only the issuer should sign the issuance.")
}

func validateMove(c *checker, p *token.Proposal) {
	c.require(len(p.Inputs) != 0, RuleInputsNotEmpty, "There must be at least one input.")
	c.require(len(p.Outputs) != 0, RuleOutputsNotEmpty, "There must be at least one output.")

	ins := p.InputRecords()
	inIssuers := issuers(ins)
	outIssuers := issuers(p.Outputs)
	c.require(sameParties(inIssuers, outIssuers), RuleIssuersConserved,
		"The issuers of the inputs and outputs must be the same.")

	inSums, inOK := sumByIssuer(ins)
	outSums, outOK := sumByIssuer(p.Outputs)
	if c.require(inOK && outOK, RuleNoOverflow, "Amounts summed per issuer must not overflow.") {
		c.require(sameSums(inSums, outSums), RuleAmountConserved,
			"The sum of input and output amounts must be the same for each issuer.")
	}

	owners := owners(ins)
	one := c.require(len(owners) == 1, RuleOneInputOwner, "All inputs must have the same owner, found %d.", len(owners))
	c.require(nonNegative(ins) && nonNegative(p.Outputs), RuleNonNegative, "Input and output amounts must not be negative.")
	if one {
		c.require(sameKeys(p.SignerSet(), owners[0].Key), RuleOwnerSigns, "Only the owner of the inputs must sign.")
	}
}

func validateRedeem(c *checker, p *token.Proposal) {
	c.require(len(p.Inputs) != 0, RuleInputsNotEmpty, "There must be at least one input.")
	c.require(len(p.Outputs) == 0, RuleRedeemOutputsEmpty, "No outputs may be created when redeeming.")

	ins := p.InputRecords()
	c.require(nonNegative(ins), RuleNonNegative, "Input amounts must not be negative.")
	_, ok := sumByIssuer(ins)
	c.require(ok, RuleNoOverflow, "Amounts summed per issuer must not overflow.")

	owners := owners(ins)
	one := c.require(len(owners) == 1, RuleOneInputOwner, "All inputs must have the same owner, found %d.", len(owners))
	if one {
		keys := []token.KeyID{owners[0].Key}
		for _, iss := range issuers(ins) {
			keys = append(keys, iss.Key)
		}
		c.require(sameKeys(p.SignerSet(), keys...), RuleOwnerIssuersSign,
			"The owner and every issuer of the inputs must sign.")
	}
}

// RedeemTotals returns the amount redeemed per issuer key.
// It fails with checked.ErrOverflow if any total overflows.
func RedeemTotals(inputs []token.Record) (map[token.KeyID]int64, error) {
	sums, ok := sumByIssuer(inputs)
	if !ok {
		return nil, errors.Wrap(checked.ErrOverflow, "redeem totals")
	}
	return sums, nil
}

// issuers returns the distinct issuers of recs in order of first appearance.
// Parties sharing a key count once.
func issuers(recs []token.Record) []token.Party {
	var ps []token.Party
	seen := make(map[token.KeyID]bool)
	for _, r := range recs {
		if !seen[r.Issuer.Key] {
			seen[r.Issuer.Key] = true
			ps = append(ps, r.Issuer)
		}
	}
	return ps
}

func owners(recs []token.Record) []token.Party {
	var ps []token.Party
	seen := make(map[token.KeyID]bool)
	for _, r := range recs {
		if !seen[r.Owner.Key] {
			seen[r.Owner.Key] = true
			ps = append(ps, r.Owner)
		}
	}
	return ps
}

func sumByIssuer(recs []token.Record) (map[token.KeyID]int64, bool) {
	sums := make(map[token.KeyID]int64)
	for _, r := range recs {
		s, ok := checked.AddInt64(sums[r.Issuer.Key], r.Amount)
		if !ok {
			return nil, false
		}
		sums[r.Issuer.Key] = s
	}
	return sums, true
}

func nonNegative(recs []token.Record) bool {
	for _, r := range recs {
		if r.Amount < 0 {
			return false
		}
	}
	return true
}

func sameParties(a, b []token.Party) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[token.KeyID]bool, len(a))
	for _, p := range a {
		set[p.Key] = true
	}
	for _, p := range b {
		if !set[p.Key] {
			return false
		}
	}
	return true
}

func sameSums(a, b map[token.KeyID]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// sameKeys reports whether set holds exactly the given keys.
func sameKeys(set map[token.KeyID]struct{}, keys ...token.KeyID) bool {
	want := make(map[token.KeyID]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	if len(set) != len(want) {
		return false
	}
	for k := range want {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
