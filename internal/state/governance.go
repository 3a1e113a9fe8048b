package state

import (
	fpmath "CoverPool/internal/math"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DefaultThreshold is the committee approval threshold installed by setup
// when none is given.
const DefaultThreshold = 2

// RequestKind discriminates governance request payloads.
type RequestKind uint8

const (
	KindClaimPayout RequestKind = iota + 1
	KindChangeManager
	KindAddCommitteeMember
	KindRemoveCommitteeMember
	KindChangeThreshold
	KindUpdatePolicy
	KindUpdatePoolParameters
)

var requestKindNames = map[RequestKind]string{
	KindClaimPayout:           "ClaimPayout",
	KindChangeManager:         "ChangeManager",
	KindAddCommitteeMember:    "AddCommitteeMember",
	KindRemoveCommitteeMember: "RemoveCommitteeMember",
	KindChangeThreshold:       "ChangeThreshold",
	KindUpdatePolicy:          "UpdatePolicy",
	KindUpdatePoolParameters:  "UpdatePoolParameters",
}

func (k RequestKind) String() string {
	if s, ok := requestKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

func ParseRequestKind(s string) (RequestKind, error) {
	for k, name := range requestKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown request kind %q", ErrInvalidParameter, s)
}

// Payload is the kind-specific body of a governance request.
type Payload interface {
	Kind() RequestKind
	Validate() error
}

type ClaimPayout struct {
	PolicyID  int64         `json:"policy_id"`
	Amount    fpmath.Amount `json:"amount"`
	Recipient uuid.UUID     `json:"recipient"`
}

func (ClaimPayout) Kind() RequestKind { return KindClaimPayout }
func (c ClaimPayout) Validate() error {
	if c.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if c.Recipient == uuid.Nil {
		return fmt.Errorf("%w: claim recipient required", ErrInvalidParameter)
	}
	return nil
}

type ChangeManager struct {
	Manager uuid.UUID `json:"manager"`
}

func (ChangeManager) Kind() RequestKind { return KindChangeManager }
func (c ChangeManager) Validate() error {
	if c.Manager == uuid.Nil {
		return fmt.Errorf("%w: manager required", ErrInvalidParameter)
	}
	return nil
}

type AddCommitteeMember struct {
	Member uuid.UUID `json:"member"`
}

func (AddCommitteeMember) Kind() RequestKind { return KindAddCommitteeMember }
func (a AddCommitteeMember) Validate() error {
	if a.Member == uuid.Nil {
		return fmt.Errorf("%w: member required", ErrInvalidParameter)
	}
	return nil
}

type RemoveCommitteeMember struct {
	Member uuid.UUID `json:"member"`
}

func (RemoveCommitteeMember) Kind() RequestKind { return KindRemoveCommitteeMember }
func (r RemoveCommitteeMember) Validate() error {
	if r.Member == uuid.Nil {
		return fmt.Errorf("%w: member required", ErrInvalidParameter)
	}
	return nil
}

type ChangeThreshold struct {
	Threshold int `json:"threshold"`
}

func (ChangeThreshold) Kind() RequestKind { return KindChangeThreshold }
func (c ChangeThreshold) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1, got %d", ErrInvalidParameter, c.Threshold)
	}
	return nil
}

type UpdatePolicy struct {
	PolicyID        int64       `json:"policy_id"`
	CollateralRatio fpmath.Rate `json:"collateral_ratio"`
	WeeklyPremium   fpmath.Rate `json:"weekly_premium"`
	Name            string      `json:"name"`
	Terms           string      `json:"terms"`
}

func (UpdatePolicy) Kind() RequestKind { return KindUpdatePolicy }
func (u UpdatePolicy) Validate() error {
	return ValidatePolicy(u.CollateralRatio, u.WeeklyPremium)
}

type UpdatePoolParameters struct {
	Params PoolParams `json:"params"`
}

func (UpdatePoolParameters) Kind() RequestKind { return KindUpdatePoolParameters }
func (u UpdatePoolParameters) Validate() error {
	return ValidatePoolParams(&u.Params)
}

// EncodePayload / DecodePayload give payloads a stable tagged JSON form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	return json.Marshal(p)
}

func DecodePayload(kind RequestKind, data []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindClaimPayout:
		var v ClaimPayout
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindChangeManager:
		var v ChangeManager
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindAddCommitteeMember:
		var v AddCommitteeMember
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindRemoveCommitteeMember:
		var v RemoveCommitteeMember
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindChangeThreshold:
		var v ChangeThreshold
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindUpdatePolicy:
		var v UpdatePolicy
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	case KindUpdatePoolParameters:
		var v UpdatePoolParameters
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown request kind %d", ErrInvalidParameter, kind)
	}
	return p, nil
}

// GovernanceRequest is a proposal awaiting committee approval.
type GovernanceRequest struct {
	ID           int64
	Proposer     uuid.UUID
	Payload      Payload
	Votes        map[uuid.UUID]bool
	CreatedWeek  int64
	Executed     bool
	ExecutedWeek int64
}

func (r *GovernanceRequest) Kind() RequestKind { return r.Payload.Kind() }

// Committee is the voting body plus the pool manager.
type Committee struct {
	manager   uuid.UUID
	members   []uuid.UUID
	threshold int
}

func (c *Committee) Manager() uuid.UUID { return c.manager }
func (c *Committee) Threshold() int     { return c.threshold }

func (c *Committee) Members() []uuid.UUID {
	out := make([]uuid.UUID, len(c.members))
	copy(out, c.members)
	return out
}

// IndexPlusOne is the 1-based committee position of id, 0 when absent.
func (c *Committee) IndexPlusOne(id uuid.UUID) int {
	for i, m := range c.members {
		if m == id {
			return i + 1
		}
	}
	return 0
}

func (c *Committee) IsMember(id uuid.UUID) bool {
	return c.IndexPlusOne(id) > 0
}

// Install sets the initial manager, members and threshold.
func (c *Committee) Install(manager uuid.UUID, members []uuid.UUID, threshold int) error {
	if manager == uuid.Nil {
		return fmt.Errorf("%w: manager required", ErrInvalidParameter)
	}
	seen := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		if m == uuid.Nil || seen[m] {
			return fmt.Errorf("%w: invalid or duplicate committee member %s", ErrInvalidParameter, m)
		}
		seen[m] = true
	}
	if threshold < 1 || threshold > len(members) {
		return fmt.Errorf("%w: threshold %d with %d members", ErrInvalidParameter, threshold, len(members))
	}
	c.manager = manager
	c.members = append([]uuid.UUID(nil), members...)
	c.threshold = threshold
	return nil
}

// GovernanceQueue holds proposals and executes the committee changes.
// Claim payouts and configuration updates are carried out by the caller
// after CheckExecutable succeeds.
type GovernanceQueue struct {
	committee Committee
	requests  []*GovernanceRequest
}

func NewGovernanceQueue() *GovernanceQueue {
	return &GovernanceQueue{}
}

func (gq *GovernanceQueue) Committee() *Committee { return &gq.committee }

func (gq *GovernanceQueue) Len() int { return len(gq.requests) }

func (gq *GovernanceQueue) Requests() []*GovernanceRequest { return gq.requests }

func (gq *GovernanceQueue) Request(id int64) (*GovernanceRequest, error) {
	if id < 0 || id >= int64(len(gq.requests)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	return gq.requests[id], nil
}

// CanPropose reports whether caller may open a request of kind. Claims
// come from the manager; everything else from a committee member.
func (gq *GovernanceQueue) CanPropose(caller uuid.UUID, kind RequestKind) bool {
	if kind == KindClaimPayout {
		return caller == gq.committee.manager
	}
	return gq.committee.IsMember(caller)
}

func (gq *GovernanceQueue) Propose(caller uuid.UUID, payload Payload, week int64) (*GovernanceRequest, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidParameter)
	}
	if !gq.CanPropose(caller, payload.Kind()) {
		return nil, fmt.Errorf("%w: %s may not propose %s", ErrUnauthorized, caller, payload.Kind())
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	r := &GovernanceRequest{
		ID:          int64(len(gq.requests)),
		Proposer:    caller,
		Payload:     payload,
		Votes:       make(map[uuid.UUID]bool),
		CreatedWeek: week,
	}
	gq.requests = append(gq.requests, r)
	return r, nil
}

// Vote records a member's vote. Re-voting overwrites the earlier vote.
func (gq *GovernanceQueue) Vote(caller uuid.UUID, id int64, support bool) error {
	if !gq.committee.IsMember(caller) {
		return fmt.Errorf("%w: %s is not a committee member", ErrUnauthorized, caller)
	}
	r, err := gq.Request(id)
	if err != nil {
		return err
	}
	if r.Executed {
		return ErrAlreadyExecuted
	}
	r.Votes[caller] = support
	return nil
}

// Support counts supporting votes from current committee members only.
func (gq *GovernanceQueue) Support(r *GovernanceRequest) int {
	n := 0
	for voter, yes := range r.Votes {
		if yes && gq.committee.IsMember(voter) {
			n++
		}
	}
	return n
}

func (gq *GovernanceQueue) CheckExecutable(id int64) (*GovernanceRequest, error) {
	r, err := gq.Request(id)
	if err != nil {
		return nil, err
	}
	if r.Executed {
		return nil, ErrAlreadyExecuted
	}
	if n := gq.Support(r); n < gq.committee.threshold {
		return nil, fmt.Errorf("%w: %d of %d", ErrNotEnoughVotes, n, gq.committee.threshold)
	}
	return r, nil
}

// CheckCommitteeChange validates a committee-mutating payload against
// the current committee without applying it.
func (gq *GovernanceQueue) CheckCommitteeChange(p Payload) error {
	c := &gq.committee
	switch v := p.(type) {
	case ChangeManager:
		return nil
	case AddCommitteeMember:
		if c.IsMember(v.Member) {
			return fmt.Errorf("%w: %s already a member", ErrInvalidParameter, v.Member)
		}
	case RemoveCommitteeMember:
		if !c.IsMember(v.Member) {
			return fmt.Errorf("%w: %s not a member", ErrInvalidParameter, v.Member)
		}
		if len(c.members)-1 < c.threshold {
			return fmt.Errorf("%w: removing %s leaves %d members below threshold %d",
				ErrInvalidParameter, v.Member, len(c.members)-1, c.threshold)
		}
	case ChangeThreshold:
		if v.Threshold < 1 || v.Threshold > len(c.members) {
			return fmt.Errorf("%w: threshold %d with %d members", ErrInvalidParameter, v.Threshold, len(c.members))
		}
	default:
		return fmt.Errorf("%w: %s is not a committee change", ErrInvalidParameter, p.Kind())
	}
	return nil
}

// ApplyCommitteeChange mutates the committee. Callers run
// CheckCommitteeChange first.
func (gq *GovernanceQueue) ApplyCommitteeChange(p Payload) {
	c := &gq.committee
	switch v := p.(type) {
	case ChangeManager:
		c.manager = v.Manager
	case AddCommitteeMember:
		c.members = append(c.members, v.Member)
	case RemoveCommitteeMember:
		for i, m := range c.members {
			if m == v.Member {
				c.members = append(c.members[:i], c.members[i+1:]...)
				break
			}
		}
	case ChangeThreshold:
		c.threshold = v.Threshold
	}
}

func (gq *GovernanceQueue) MarkExecuted(r *GovernanceRequest, week int64) {
	r.Executed = true
	r.ExecutedWeek = week
}

// GovernanceSnapshot is the serializable form of the queue.
type GovernanceSnapshot struct {
	Manager   uuid.UUID                   `json:"manager"`
	Members   []uuid.UUID                 `json:"members"`
	Threshold int                         `json:"threshold"`
	Requests  []GovernanceRequestSnapshot `json:"requests"`
}

type GovernanceRequestSnapshot struct {
	ID           int64              `json:"id"`
	Kind         string             `json:"kind"`
	Proposer     uuid.UUID          `json:"proposer"`
	Payload      json.RawMessage    `json:"payload"`
	Votes        map[uuid.UUID]bool `json:"votes"`
	CreatedWeek  int64              `json:"created_week"`
	Executed     bool               `json:"executed"`
	ExecutedWeek int64              `json:"executed_week"`
}

func (gq *GovernanceQueue) Snapshot() (GovernanceSnapshot, error) {
	snap := GovernanceSnapshot{
		Manager:   gq.committee.manager,
		Members:   gq.committee.Members(),
		Threshold: gq.committee.threshold,
		Requests:  make([]GovernanceRequestSnapshot, 0, len(gq.requests)),
	}
	for _, r := range gq.requests {
		raw, err := EncodePayload(r.Payload)
		if err != nil {
			return GovernanceSnapshot{}, fmt.Errorf("encode request %d: %w", r.ID, err)
		}
		snap.Requests = append(snap.Requests, GovernanceRequestSnapshot{
			ID:           r.ID,
			Kind:         r.Kind().String(),
			Proposer:     r.Proposer,
			Payload:      raw,
			Votes:        r.Votes,
			CreatedWeek:  r.CreatedWeek,
			Executed:     r.Executed,
			ExecutedWeek: r.ExecutedWeek,
		})
	}
	return snap, nil
}

func (gq *GovernanceQueue) Restore(snap GovernanceSnapshot) error {
	gq.committee = Committee{
		manager:   snap.Manager,
		members:   append([]uuid.UUID(nil), snap.Members...),
		threshold: snap.Threshold,
	}
	gq.requests = make([]*GovernanceRequest, 0, len(snap.Requests))
	for _, rs := range snap.Requests {
		kind, err := ParseRequestKind(rs.Kind)
		if err != nil {
			return err
		}
		payload, err := DecodePayload(kind, rs.Payload)
		if err != nil {
			return fmt.Errorf("decode request %d: %w", rs.ID, err)
		}
		votes := rs.Votes
		if votes == nil {
			votes = make(map[uuid.UUID]bool)
		}
		gq.requests = append(gq.requests, &GovernanceRequest{
			ID:           rs.ID,
			Proposer:     rs.Proposer,
			Payload:      payload,
			Votes:        votes,
			CreatedWeek:  rs.CreatedWeek,
			Executed:     rs.Executed,
			ExecutedWeek: rs.ExecutedWeek,
		})
	}
	return nil
}
