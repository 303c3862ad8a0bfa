// Package intent persists the decision to start or accept a call so the
// call can be resumed after the client moves to its call view or restarts.
//
// An intent is four keys that are written and cleared together:
// call_target, call_initiator, call_offer and call_candidates.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("intent")

// Storage keys.
const (
	KeyTarget     = "call_target"
	KeyInitiator  = "call_initiator"
	KeyOffer      = "call_offer"
	KeyCandidates = "call_candidates"
)

// Keys lists every key an intent occupies.
var Keys = []string{KeyTarget, KeyInitiator, KeyOffer, KeyCandidates}

// ErrNoIntent is returned by Load when no call intent is stored.
var ErrNoIntent = errors.New("no call intent")

// Store is a small key/value store. Set and Remove apply all of their keys
// or none of them.
type Store interface {
	Get(key string) (string, bool, error)
	Set(values map[string]string) error
	Remove(keys ...string) error
}

// Intent is a decoded call intent.
type Intent struct {
	Target    string
	Initiator bool
	// Offer is the serialized remote offer; empty for outgoing calls.
	Offer string
	// Candidates are serialized remote candidates that arrived before the
	// call was accepted.
	Candidates []string
}

// SaveOutgoing records the intent to call target.
func SaveOutgoing(s Store, target string) error {
	if err := s.Remove(KeyOffer, KeyCandidates); err != nil {
		return fmt.Errorf("save outgoing intent: %w", err)
	}
	if err := s.Set(map[string]string{
		KeyTarget:    target,
		KeyInitiator: "true",
	}); err != nil {
		return fmt.Errorf("save outgoing intent: %w", err)
	}
	log.Debugf("saved outgoing intent for %s", target)
	return nil
}

// SaveIncoming records the intent to accept sender's offer together with
// the candidates buffered for it.
func SaveIncoming(s Store, sender, offer string, candidates []string) error {
	encoded, err := encodeCandidates(candidates)
	if err != nil {
		return fmt.Errorf("save incoming intent: %w", err)
	}
	if err := s.Set(map[string]string{
		KeyTarget:     sender,
		KeyInitiator:  "false",
		KeyOffer:      offer,
		KeyCandidates: encoded,
	}); err != nil {
		return fmt.Errorf("save incoming intent: %w", err)
	}
	log.Debugf("saved incoming intent for %s (%d candidates)", sender, len(candidates))
	return nil
}

// AppendCandidate adds one serialized candidate to call_candidates.
func AppendCandidate(s Store, candidate string) error {
	current, err := loadCandidates(s)
	if err != nil {
		return err
	}
	encoded, err := encodeCandidates(append(current, candidate))
	if err != nil {
		return fmt.Errorf("append candidate: %w", err)
	}
	return s.Set(map[string]string{KeyCandidates: encoded})
}

// Load reads the stored intent. It returns ErrNoIntent when there is no
// call_target.
func Load(s Store) (Intent, error) {
	target, ok, err := s.Get(KeyTarget)
	if err != nil {
		return Intent{}, fmt.Errorf("load intent: %w", err)
	}
	if !ok || target == "" {
		return Intent{}, ErrNoIntent
	}

	in := Intent{Target: target}
	if v, ok, err := s.Get(KeyInitiator); err != nil {
		return Intent{}, fmt.Errorf("load intent: %w", err)
	} else if ok {
		if in.Initiator, err = strconv.ParseBool(v); err != nil {
			return Intent{}, fmt.Errorf("load intent: bad %s %q", KeyInitiator, v)
		}
	}
	if v, ok, err := s.Get(KeyOffer); err != nil {
		return Intent{}, fmt.Errorf("load intent: %w", err)
	} else if ok {
		in.Offer = v
	}
	if in.Candidates, err = loadCandidates(s); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// Clear removes all four intent keys in one operation.
func Clear(s Store) error {
	if err := s.Remove(Keys...); err != nil {
		return fmt.Errorf("clear intent: %w", err)
	}
	return nil
}

func loadCandidates(s Store) ([]string, error) {
	v, ok, err := s.Get(KeyCandidates)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	if !ok || v == "" {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = string(r)
	}
	return out, nil
}

// encodeCandidates stores candidates as a JSON array of objects, not of
// strings.
func encodeCandidates(candidates []string) (string, error) {
	raw := make([]json.RawMessage, 0, len(candidates))
	for _, c := range candidates {
		if !json.Valid([]byte(c)) {
			return "", fmt.Errorf("candidate is not JSON: %q", c)
		}
		raw = append(raw, json.RawMessage(c))
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
