package client

import (
	"sort"
	"time"
)

// Matches reports whether the temporary message tmp and the authoritative message
// auth are the same logical message. When both carry an idempotency key the keys
// decide; otherwise content and sender must be equal and the timestamps at most
// window apart.
func Matches(tmp, auth Message, window time.Duration) bool {
	if tmp.ClientID != "" && auth.ClientID != "" {
		return tmp.ClientID == auth.ClientID
	}
	if tmp.Content != auth.Content || tmp.Sender != auth.Sender {
		return false
	}
	d := tmp.Timestamp.Sub(auth.Timestamp)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Reconcile merges authoritative messages into current and returns the new list,
// sorted by timestamp. For each incoming message: a known id is skipped, a
// matching temporary is replaced in place, anything else is appended.
// current is not modified.
func Reconcile(current, incoming []Message, window time.Duration) []Message {
	out := make([]Message, len(current), len(current)+len(incoming))
	copy(out, current)

	ids := make(map[string]bool, len(out))
	for _, m := range out {
		if m.ServerID != "" {
			ids[m.ServerID] = true
		}
	}

	for _, in := range incoming {
		if in.ServerID == "" {
			in = authoritative(in)
		}
		if ids[in.ServerID] {
			continue
		}
		ids[in.ServerID] = true

		if i := findTemporary(out, in, window); i >= 0 {
			out[i] = supersede(out[i], in)
			continue
		}
		out = append(out, in)
	}

	sortByTimestamp(out)
	return out
}

// ReconcileRefetch merges a full history fetch into current. Temporaries that no
// history entry supersedes survive only when flagged PersistLocally and younger
// than ttl.
func ReconcileRefetch(current, history []Message, now time.Time, window, ttl time.Duration) []Message {
	merged := Reconcile(current, history, window)

	out := merged[:0]
	for _, m := range merged {
		if m.Temporary && !(m.PersistLocally && now.Sub(m.Timestamp) < ttl) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// AddTemporary appends an optimistic message unless an authoritative copy of it
// is already present, in which case that copy adopts the idempotency key. The
// second result reports whether the message was already confirmed.
func AddTemporary(current []Message, tmp Message, window time.Duration) ([]Message, bool) {
	out := make([]Message, len(current), len(current)+1)
	copy(out, current)

	best, bestDist := -1, time.Duration(-1)
	for i, m := range out {
		if m.Temporary || m.ServerID == "" || !Matches(tmp, m, window) {
			continue
		}
		if claimedByOther(m, tmp) {
			continue
		}
		d := absDuration(tmp.Timestamp.Sub(m.Timestamp))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 {
		out[best].ClientID = tmp.ClientID
		return out, true
	}

	out = append(out, tmp)
	sortByTimestamp(out)
	return out, false
}

// findTemporary returns the index of the temporary closest in time to auth that
// matches it, or -1.
func findTemporary(list []Message, auth Message, window time.Duration) int {
	best, bestDist := -1, time.Duration(-1)
	for i, m := range list {
		if !m.Temporary || !Matches(m, auth, window) {
			continue
		}
		d := absDuration(m.Timestamp.Sub(auth.Timestamp))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// supersede replaces tmp with auth, keeping the idempotency key so the owner of
// tmp can still find it.
func supersede(tmp, auth Message) Message {
	if auth.ClientID == "" {
		auth.ClientID = tmp.ClientID
	}
	auth.Status = StatusSent
	return auth
}

// An authoritative message already linked to a different key belongs to another send.
func claimedByOther(auth, tmp Message) bool {
	return auth.ClientID != "" && tmp.ClientID != "" && auth.ClientID != tmp.ClientID
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func sortByTimestamp(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}
